package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"storefront-fulfillment/internal/common/errors"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// ValidationResult contains validation results with structured errors
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

var (
	phoneDigits   = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	postalCode    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{2,9}$`)
)

// NewCentralizedValidator creates a new centralized validator instance
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerStorefrontValidators(v)

	// report json names so messages match what the client sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateStructResult validates a struct and returns detailed results
func (cv *CentralizedValidator) ValidateStructResult(s interface{}) *ValidationResult {
	err := cv.validator.Struct(s)
	if err == nil {
		return &ValidationResult{Valid: true, Errors: []ValidationError{}}
	}
	return &ValidationResult{Valid: false, Errors: cv.extractValidationErrors(err)}
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []ValidationError {
	var out []ValidationError

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	for _, fieldError := range validationErrs {
		field := fieldPath(fieldError)
		out = append(out, ValidationError{
			Field:   field,
			Tag:     fieldError.Tag(),
			Value:   fmt.Sprintf("%v", fieldError.Value()),
			Message: formatFieldError(field, fieldError),
			Param:   fieldError.Param(),
		})
	}
	return out
}

// fieldPath drops the root struct name from the namespace: "OrderPayload.address.city" -> "address.city"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatFieldError(field string, err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "email":
		return fmt.Sprintf("field '%s' must be a valid email address", field)
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, err.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, err.Param())
	case "dive":
		return fmt.Sprintf("field '%s' has an invalid entry", field)
	case "phone":
		return fmt.Sprintf("field '%s' must be a valid phone number", field)
	case "postal_code":
		return fmt.Sprintf("field '%s' must be a valid postal code", field)
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, err.Tag())
	}
}

func registerStorefrontValidators(v *validator.Validate) {
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneDigits.MatchString(phoneStripper.Replace(fl.Field().String()))
	})

	v.RegisterValidation("postal_code", func(fl validator.FieldLevel) bool {
		return postalCode.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	// standard five-field specs plus descriptors such as "@every 10m"
	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		_, err := parser.Parse(fl.Field().String())
		return err == nil
	})
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	validationErrors := cv.extractValidationErrors(err)
	if len(validationErrors) == 1 {
		return errors.ValidationError(validationErrors[0].Message).WithContext("field", validationErrors[0].Field)
	}

	messages := make([]string, len(validationErrors))
	fields := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
		fields[i] = e.Field
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))).
		WithContext("fields", fields)
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}
