// Package handlers adapts HTTP requests to the fulfillment orchestrator.
//
// Payment routes keep the JSON contract the storefront checkout already
// speaks: every response carries a boolean "success" and failures carry a
// human readable "message".
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/fulfillment"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/payment"
	"storefront-fulfillment/internal/shipping"
)

// DefaultMaxBodyBytes caps request bodies on the payment routes
const DefaultMaxBodyBytes int64 = 1 << 20

// Orders is the slice of the orchestrator the handlers drive
type Orders interface {
	ConfirmDirect(ctx context.Context, req fulfillment.DirectConfirmation) (*fulfillment.Admission, error)
	ConfirmWebhook(ctx context.Context, body []byte, sig string) (*fulfillment.WebhookResult, error)
	Reprocess(ctx context.Context, paymentID string) (*models.Order, error)
	Order(ctx context.Context, paymentID string) (*models.Order, error)
	EmailLogs(ctx context.Context, paymentID string) ([]*models.EmailLog, error)
}

// Checkout opens provider orders before the payment widget is shown
type Checkout interface {
	CreateOrder(ctx context.Context, req payment.CheckoutRequest) (*payment.ProviderOrder, error)
}

type Tracking interface {
	Track(ctx context.Context, awb string) (*shipping.Tracking, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type Handlers struct {
	orders       Orders
	checkout     Checkout
	tracking     Tracking
	health       HealthChecker
	redis        HealthChecker
	maxBodyBytes int64
	logger       logging.Logger
}

type Deps struct {
	Orders   Orders
	Checkout Checkout
	Tracking Tracking
	Health   HealthChecker
	// Redis is optional; when it fails the service still answers, degraded
	Redis HealthChecker
}

func New(deps Deps, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		orders:       deps.Orders,
		checkout:     deps.Checkout,
		tracking:     deps.Tracking,
		health:       deps.Health,
		redis:        deps.Redis,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": status < http.StatusBadRequest,
		"message": message,
	})
}

// statusFor maps an error type onto the response status
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeAuth:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Server-side failures are logged
// and reported with fallback so internals never reach the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	resp := ErrorResponse{Message: fallback, Type: string(errors.GetType(err))}

	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error(fallback, err,
			logging.Field{Key: "path", Value: r.URL.Path},
		)
	} else if appErr, ok := errors.As(err); ok && appErr.Message != "" {
		resp.Message = appErr.Message
	}

	writeJSON(w, status, resp)
}
