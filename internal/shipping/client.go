// Package shipping talks to the shipping provider (Shiprocket's external API):
// token management, the four-step shipment provisioning sequence and
// shipment tracking.
package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-fulfillment/internal/circuitbreaker"
	"storefront-fulfillment/internal/common/errors"
	commonhttp "storefront-fulfillment/internal/common/http"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

const (
	defaultHSN    = "34060090"
	defaultWeight = 0.5
	defaultSide   = 10
)

// Provider is the set of shipping provider calls the pipeline depends on
type Provider interface {
	CreateShipment(ctx context.Context, order *models.Order) (*CreatedShipment, error)
	AssignAWB(ctx context.Context, shipmentID int64) (*AWBAssignment, error)
	RequestPickup(ctx context.Context, shipmentID int64) (*PickupConfirmation, error)
	GenerateDocuments(ctx context.Context, ref ShipmentRef) (*DocumentURLs, error)
	FetchTaxInvoice(ctx context.Context, shipmentOrderID int64) ([]byte, error)
	Track(ctx context.Context, awb string) (*Tracking, error)
}

// ShipmentRef identifies a shipment and the provider order it belongs to
type ShipmentRef struct {
	OrderID    int64
	ShipmentID int64
}

type CreatedShipment struct {
	OrderID    int64 `json:"order_id"`
	ShipmentID int64 `json:"shipment_id"`
}

type AWBAssignment struct {
	TrackingCode     string
	CarrierName      string
	CourierCompanyID int64
}

type PickupConfirmation struct {
	Confirmation  string
	TokenNumber   string
	ScheduledDate string
}

// DocumentURLs are the generated document locations; InvoiceURL may be empty
type DocumentURLs struct {
	LabelURL    string
	ManifestURL string
	InvoiceURL  string
}

// Tracking is the normalised answer of a tracking lookup
type Tracking struct {
	AWBCode        string                   `json:"awb_code"`
	ShipmentStatus string                   `json:"shipment_status"`
	CourierName    string                   `json:"courier_name"`
	DeliveredTo    *string                  `json:"delivered_to"`
	ETD            *string                  `json:"etd"`
	CurrentCity    *string                  `json:"current_city"`
	Events         []map[string]interface{} `json:"events"`
}

// ClientConfig configures the provider client
type ClientConfig struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	TokenTTL       time.Duration
	Timeout        time.Duration
	Retry          *commonhttp.RetryConfig
}

// Client implements Provider over HTTP
type Client struct {
	baseURL        string
	email          string
	password       string
	pickupLocation string

	api      *commonhttp.HTTPClientWrapper
	download *commonhttp.HTTPClientWrapper
	tokens   TokenSource
	logger   logging.Logger
	now      func() time.Time
}

// ClientOption customises a Client
type ClientOption func(*Client)

// WithTokenSource replaces the built-in token cache
func WithTokenSource(tokens TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// NewClient creates a provider client. Unless overridden, tokens come from a
// TokenCache that logs in with the configured credentials.
func NewClient(cfg ClientConfig, logger logging.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{Key: "component", Value: "shipping"})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pickup := cfg.PickupLocation
	if pickup == "" {
		pickup = "Home"
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		email:          cfg.Email,
		password:       cfg.Password,
		pickupLocation: pickup,
		logger:         logger,
		now:            time.Now,
	}
	c.api = commonhttp.NewHTTPClientWrapper("shipping", logger, commonhttp.WithTimeout(timeout)).
		WithCircuitBreaker(*c.breakerConfig()).
		WithRetryConfig(cfg.Retry)
	c.download = commonhttp.NewHTTPClientWrapper("shipping-download", logger, commonhttp.WithTimeout(timeout))

	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewTokenCache(cfg.TokenTTL, c.Login)
	}
	return c
}

func (c *Client) breakerConfig() *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Timeout = time.Minute
	return &cfg
}

// Login exchanges the account credentials for a bearer token
func (c *Client) Login(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": c.email, "password": c.password}
	if err := c.api.PostJSON(ctx, c.baseURL+"/auth/login", body, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.AuthError("shipping provider authentication failed")
	}
	c.logger.Info("Authenticated with shipping provider")
	return resp.Token, nil
}

// authorized runs fn with a bearer token, logging in again once on a 401
func (c *Client) authorized(ctx context.Context, fn func(token string) error) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	err = fn(token)
	if commonhttp.StatusCode(err) != http.StatusUnauthorized {
		return err
	}

	c.logger.Warn("Shipping token rejected, logging in again")
	c.tokens.Invalidate()
	if token, err = c.tokens.Token(ctx); err != nil {
		return err
	}
	return fn(token)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.authorized(ctx, func(token string) error {
		return c.api.PostJSON(ctx, c.baseURL+path, body, &commonhttp.RequestOptions{BearerToken: token}, out)
	})
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.authorized(ctx, func(token string) error {
		return c.api.GetJSON(ctx, c.baseURL+path, &commonhttp.RequestOptions{BearerToken: token}, out)
	})
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice int64  `json:"selling_price"`
	HSN          string `json:"hsn"`
}

type createOrderRequest struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingLastName   string      `json:"billing_last_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	OrderItems        []orderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          int64       `json:"sub_total"`
	Length            int         `json:"length"`
	Breadth           int         `json:"breadth"`
	Height            int         `json:"height"`
	Weight            float64     `json:"weight"`
}

func (c *Client) CreateShipment(ctx context.Context, order *models.Order) (*CreatedShipment, error) {
	items := make([]orderItem, 0, len(order.Items))
	for _, item := range order.Items {
		sku := item.ProductID
		if sku == "" {
			sku = item.Name
		}
		items = append(items, orderItem{
			Name:         item.Name,
			SKU:          sku,
			Units:        item.Quantity,
			SellingPrice: item.Price,
			HSN:          defaultHSN,
		})
	}

	req := createOrderRequest{
		OrderID:           order.ID,
		OrderDate:         c.now().Format("2006-01-02"),
		PickupLocation:    c.pickupLocation,
		BillingName:       order.Customer.Name,
		BillingAddress:    order.Address.String(),
		BillingCity:       order.Address.City,
		BillingPincode:    order.Address.PostalCode,
		BillingState:      order.Address.State,
		BillingCountry:    order.Address.Country,
		BillingEmail:      order.Customer.Email,
		BillingPhone:      order.Customer.Phone,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     "Prepaid",
		SubTotal:          order.Total,
		Length:            defaultSide,
		Breadth:           defaultSide,
		Height:            defaultSide,
		Weight:            defaultWeight,
	}

	var resp CreatedShipment
	if err := c.post(ctx, "/orders/create/adhoc", req, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == 0 || resp.ShipmentID == 0 {
		return nil, errors.UpstreamError("shipping", 0, "order creation returned no shipment id")
	}
	return &resp, nil
}

func (c *Client) AssignAWB(ctx context.Context, shipmentID int64) (*AWBAssignment, error) {
	var resp struct {
		Response struct {
			Data struct {
				AWBCode          string `json:"awb_code"`
				CourierCompanyID int64  `json:"courier_company_id"`
				CourierName      string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/courier/assign/awb", map[string]int64{"shipment_id": shipmentID}, &resp); err != nil {
		return nil, err
	}

	data := resp.Response.Data
	if data.AWBCode == "" {
		return nil, errors.UpstreamError("shipping", 0, "AWB assignment returned no tracking code")
	}
	carrier := data.CourierName
	if carrier == "" {
		carrier = "Unknown"
	}
	return &AWBAssignment{
		TrackingCode:     data.AWBCode,
		CarrierName:      carrier,
		CourierCompanyID: data.CourierCompanyID,
	}, nil
}

func (c *Client) RequestPickup(ctx context.Context, shipmentID int64) (*PickupConfirmation, error) {
	var resp struct {
		PickupStatus int `json:"pickup_status"`
		Response     struct {
			ScheduledDate json.RawMessage `json:"pickup_scheduled_date"`
			TokenNumber   json.RawMessage `json:"pickup_token_number"`
			Data          json.RawMessage `json:"data"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/courier/generate/pickup", map[string]int64{"shipment_id": shipmentID}, &resp); err != nil {
		return nil, err
	}

	confirmation := rawString(resp.Response.Data)
	if resp.PickupStatus != 1 || confirmation == "" {
		return nil, errors.UpstreamError("shipping", 0,
			fmt.Sprintf("pickup request not confirmed (status %d)", resp.PickupStatus))
	}
	return &PickupConfirmation{
		Confirmation:  confirmation,
		TokenNumber:   rawString(resp.Response.TokenNumber),
		ScheduledDate: rawString(resp.Response.ScheduledDate),
	}, nil
}

// GenerateDocuments requests label, manifest and invoice. Label and manifest
// are required; an invoice failure leaves InvoiceURL empty.
func (c *Client) GenerateDocuments(ctx context.Context, ref ShipmentRef) (*DocumentURLs, error) {
	var label struct {
		LabelURL string `json:"label_url"`
	}
	if err := c.post(ctx, "/courier/generate/label", map[string][]int64{"shipment_id": {ref.ShipmentID}}, &label); err != nil {
		return nil, err
	}
	if label.LabelURL == "" {
		return nil, errors.UpstreamError("shipping", 0, "label generation returned no URL")
	}

	var manifest struct {
		ManifestURL string `json:"manifest_url"`
	}
	if err := c.post(ctx, "/manifests/generate", map[string]int64{"shipment_id": ref.ShipmentID}, &manifest); err != nil {
		return nil, err
	}
	if manifest.ManifestURL == "" {
		return nil, errors.UpstreamError("shipping", 0, "manifest generation returned no URL")
	}

	docs := &DocumentURLs{LabelURL: label.LabelURL, ManifestURL: manifest.ManifestURL}
	invoiceURL, err := c.invoiceURL(ctx, ref.OrderID)
	if err != nil {
		c.logger.Warn("Invoice generation failed, label will stand in",
			logging.Field{Key: "shipment_id", Value: ref.ShipmentID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return docs, nil
	}
	docs.InvoiceURL = invoiceURL
	return docs, nil
}

func (c *Client) invoiceURL(ctx context.Context, shipmentOrderID int64) (string, error) {
	var resp struct {
		InvoiceURL string `json:"invoice_url"`
	}
	if err := c.post(ctx, "/orders/print/invoice", map[string][]int64{"ids": {shipmentOrderID}}, &resp); err != nil {
		return "", err
	}
	if resp.InvoiceURL == "" {
		return "", errors.UpstreamError("shipping", 0, "invoice generation returned no URL")
	}
	return resp.InvoiceURL, nil
}

// FetchTaxInvoice generates the carrier tax invoice and downloads the PDF
func (c *Client) FetchTaxInvoice(ctx context.Context, shipmentOrderID int64) ([]byte, error) {
	invoiceURL, err := c.invoiceURL(ctx, shipmentOrderID)
	if err != nil {
		return nil, err
	}

	resp, err := c.download.Request(ctx, &commonhttp.RequestOptions{Method: http.MethodGet, URL: invoiceURL})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, errors.UpstreamError("shipping", resp.StatusCode, "tax invoice download was empty")
	}
	return resp.Body, nil
}

func (c *Client) Track(ctx context.Context, awb string) (*Tracking, error) {
	var resp struct {
		TrackingData *struct {
			AWBCode         json.RawMessage          `json:"awb_code"`
			ShipmentStatus  json.RawMessage          `json:"shipment_status"`
			CourierName     string                   `json:"courier_name"`
			DeliveredTo     *string                  `json:"delivered_to"`
			ETD             *string                  `json:"etd"`
			CurrentCity     *string                  `json:"current_city"`
			TrackActivities []map[string]interface{} `json:"track_activities"`
		} `json:"tracking_data"`
	}

	err := c.get(ctx, "/courier/track/awb/"+url.PathEscape(awb), &resp)
	if status := commonhttp.StatusCode(err); status == http.StatusNotFound {
		return nil, errors.NotFoundError("tracking for AWB " + awb)
	}
	if err != nil {
		return nil, err
	}
	if resp.TrackingData == nil {
		return nil, errors.NotFoundError("tracking for AWB " + awb)
	}

	data := resp.TrackingData
	code := rawString(data.AWBCode)
	if code == "" {
		code = awb
	}
	events := data.TrackActivities
	if events == nil {
		events = []map[string]interface{}{}
	}
	return &Tracking{
		AWBCode:        code,
		ShipmentStatus: rawString(data.ShipmentStatus),
		CourierName:    data.CourierName,
		DeliveredTo:    data.DeliveredTo,
		ETD:            data.ETD,
		CurrentCity:    data.CurrentCity,
		Events:         events,
	}, nil
}

// rawString unquotes JSON strings and returns other scalars verbatim; null is empty
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

var _ Provider = (*Client)(nil)
