// Package payment integrates with the payment provider (Razorpay's REST API):
// checkout order creation, payment lookup and webhook event decoding.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"storefront-fulfillment/internal/circuitbreaker"
	"storefront-fulfillment/internal/common/errors"
	commonhttp "storefront-fulfillment/internal/common/http"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

// MethodUnknown labels orders whose payment record could not be fetched
const MethodUnknown = "unknown"

// Payment is the subset of the provider's payment record the pipeline reads.
// Raw keeps the full record for audit.
type Payment struct {
	ID      string          `json:"id"`
	OrderID string          `json:"order_id"`
	Method  string          `json:"method"`
	Status  string          `json:"status"`
	Amount  int64           `json:"amount"`
	Email   string          `json:"email"`
	Raw     json.RawMessage `json:"-"`
}

// CheckoutRequest is what the storefront submits before opening the payment widget
type CheckoutRequest struct {
	Amount   int64             `json:"amount" validate:"gt=0"`
	Customer models.Customer   `json:"customer"`
	Address  models.Address    `json:"address"`
	Items    []models.LineItem `json:"items" validate:"required,min=1,dive"`
}

// ProviderOrder is the provider-side order a payment is taken against
type ProviderOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Fetcher looks up payment records
type Fetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client calls the provider API with basic auth
type Client struct {
	baseURL string
	auth    *commonhttp.BasicAuth
	api     *commonhttp.HTTPClientWrapper
	logger  logging.Logger
	now     func() time.Time
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    &commonhttp.BasicAuth{Username: cfg.KeyID, Password: cfg.KeySecret},
		api: commonhttp.NewHTTPClientWrapper("payment", logger, commonhttp.WithTimeout(timeout)).
			WithCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger: logger.WithFields(logging.Field{Key: "component", Value: "payment"}),
		now:    time.Now,
	}
}

// FetchPayment returns the provider's record for paymentID
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	resp, err := c.api.Request(ctx, &commonhttp.RequestOptions{
		Method:    "GET",
		URL:       c.baseURL + "/payments/" + url.PathEscape(paymentID),
		BasicAuth: c.auth,
	})
	if err != nil {
		return nil, err
	}

	var p Payment
	if err := resp.DecodeJSON(&p); err != nil {
		return nil, err
	}
	p.Raw = json.RawMessage(resp.Body)
	return &p, nil
}

// CreateOrder opens a provider order for the checkout amount, carrying the
// customer and cart in the order notes so the webhook can rebuild them.
// Amounts are in whole rupees here and converted to paise for the provider.
func (c *Client) CreateOrder(ctx context.Context, req CheckoutRequest) (*ProviderOrder, error) {
	if req.Amount <= 0 {
		return nil, errors.ValidationError("Missing or invalid data for order creation")
	}

	notes, err := BuildNotes(req.Customer, req.Address, req.Items, req.Amount)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"amount":          req.Amount * 100,
		"currency":        "INR",
		"receipt":         fmt.Sprintf("rcpt_%d", c.now().UnixMilli()),
		"payment_capture": 1,
		"notes":           notes,
	}

	var order ProviderOrder
	if err := c.api.PostJSON(ctx, c.baseURL+"/orders", body, &commonhttp.RequestOptions{BasicAuth: c.auth}, &order); err != nil {
		return nil, err
	}
	c.logger.Info("Provider order created",
		logging.Field{Key: "provider_order_id", Value: order.ID},
		logging.Field{Key: "amount", Value: order.Amount},
	)
	return &order, nil
}

var _ Fetcher = (*Client)(nil)
