package signature

import (
	"fmt"

	"storefront-fulfillment/internal/common/errors"
)

// VerificationError represents a signature verification failure
type VerificationError struct {
	Message string
	Source  string
}

func (e VerificationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("signature verification failed for %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("signature verification failed: %s", e.Message)
}

// Unwrap classifies every verification failure as an authentication error
func (e VerificationError) Unwrap() error {
	return errors.AuthError("invalid signature")
}

// NewVerificationError creates a new verification error
func NewVerificationError(source, format string, args ...interface{}) VerificationError {
	return VerificationError{
		Source:  source,
		Message: fmt.Sprintf(format, args...),
	}
}
