package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storefront-fulfillment/internal/circuitbreaker"
	"storefront-fulfillment/internal/common/errors"
	commonhttp "storefront-fulfillment/internal/common/http"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

// RenderRequest is the body the PDF service expects
type RenderRequest struct {
	Customer struct {
		Name string `json:"name"`
	} `json:"customer"`
	OrderName      string            `json:"orderName"`
	Items          []models.LineItem `json:"items"`
	TrackingNumber string            `json:"trackingNumber"`
}

// NewRenderRequest builds the render body for order
func NewRenderRequest(order *models.Order, trackingNumber string) RenderRequest {
	var req RenderRequest
	req.Customer.Name = order.Customer.Name
	req.OrderName = order.Reference()
	req.Items = order.Items
	req.TrackingNumber = trackingNumber
	return req
}

// ServiceRenderer calls the external PDF service
type ServiceRenderer struct {
	baseURL string
	api     *commonhttp.HTTPClientWrapper
}

func NewServiceRenderer(baseURL string, timeout time.Duration, logger logging.Logger) *ServiceRenderer {
	return &ServiceRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		api: commonhttp.NewHTTPClientWrapper("invoice-renderer", logger, commonhttp.WithTimeout(timeout)).
			WithCircuitBreaker(circuitbreaker.DefaultConfig()),
	}
}

func (r *ServiceRenderer) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	if r.baseURL == "" {
		return nil, errors.ConfigError("invoice service URL is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.InternalError("failed to encode invoice request", err)
	}

	resp, err := r.api.Request(ctx, &commonhttp.RequestOptions{
		Method:  http.MethodPost,
		URL:     r.baseURL + "/generate-invoice",
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
