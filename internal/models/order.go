// Package models holds the order record and the values that flow through fulfillment.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

type ShippingStatus string

const (
	ShippingNotShipped ShippingStatus = "not_shipped"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingDelivered  ShippingStatus = "delivered"
)

// Source records which path created the order
type Source string

const (
	SourceWeb     Source = "web"
	SourceWebhook Source = "webhook"
	SourceAdmin   Source = "admin"
)

// FulfillmentState is the position of an order's pipeline run
type FulfillmentState string

const (
	StateVerifying    FulfillmentState = "verifying"
	StateAdmitting    FulfillmentState = "admitting"
	StateProvisioning FulfillmentState = "provisioning"
	StateInvoicing    FulfillmentState = "invoicing"
	StateNotifying    FulfillmentState = "notifying"
	StateDone         FulfillmentState = "done"
	StateFailed       FulfillmentState = "failed"
)

// Terminal reports whether no further pipeline work is expected
func (s FulfillmentState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// EstimatedDeliveryWindow is added to the creation time to quote a delivery date
const EstimatedDeliveryWindow = 5 * 24 * time.Hour

type LineItem struct {
	ProductID string `json:"slug,omitempty"`
	Name      string `json:"name" validate:"required"`
	Price     int64  `json:"price" validate:"gt=0"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// LineTotal is price times quantity
func (li LineItem) LineTotal() int64 {
	return li.Price * int64(li.Quantity)
}

type Customer struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,phone"`
}

type Address struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"pincode" validate:"required,postal_code"`
	Country    string `json:"country" validate:"required"`
}

// String joins the non-empty parts the way shipping labels print them
func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// OrderPayload is the unverified order data an ingress adapter hands to admission
type OrderPayload struct {
	Customer        Customer        `json:"customer"`
	Address         Address         `json:"address"`
	Items           []LineItem      `json:"items" validate:"required,min=1,dive"`
	Total           int64           `json:"total" validate:"gt=0"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentDetails  json.RawMessage `json:"payment_details,omitempty"`
	ProviderOrderID string          `json:"provider_order_id"`
	Source          Source          `json:"source" validate:"required,oneof=web webhook admin"`
	IsTestOrder     bool            `json:"is_test_order"`
}

// ItemsTotal sums the line items
func (p OrderPayload) ItemsTotal() int64 {
	var sum int64
	for _, li := range p.Items {
		sum += li.LineTotal()
	}
	return sum
}

// Order is the persisted record, keyed for idempotency by PaymentID
type Order struct {
	ID              string          `json:"id"`
	PaymentID       string          `json:"payment_id"`
	ProviderOrderID string          `json:"provider_order_id,omitempty"`
	Customer        Customer        `json:"customer"`
	Address         Address         `json:"address"`
	Items           []LineItem      `json:"items"`
	Total           int64           `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentDetails  json.RawMessage `json:"payment_details,omitempty"`
	Status          OrderStatus     `json:"status"`
	ShippingStatus  ShippingStatus  `json:"shipping_status"`
	Source          Source          `json:"source"`
	IsTestOrder     bool            `json:"is_test_order"`

	Fulfillment

	EstimatedDelivery time.Time `json:"estimated_delivery"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Fulfillment holds the annotations the pipeline writes back onto an order
type Fulfillment struct {
	State           FulfillmentState `json:"fulfillment_state"`
	ShipmentOrderID string           `json:"shipment_order_id,omitempty"`
	ShipmentID      string           `json:"shipment_id,omitempty"`
	TrackingCode    string           `json:"tracking_code,omitempty"`
	CarrierName     string           `json:"carrier_name,omitempty"`
	PickupReference string           `json:"pickup_reference,omitempty"`
	LabelURL        string           `json:"label_url,omitempty"`
	ManifestURL     string           `json:"manifest_url,omitempty"`
	InvoiceURL      string           `json:"invoice_url,omitempty"`
	AdminNotes      string           `json:"admin_notes,omitempty"`
}

// Reference is the customer-facing order reference printed on documents and mail
func (o *Order) Reference() string {
	return "Order #" + o.ID
}

type EmailKind string

const (
	EmailOrderSuccess EmailKind = "order-success"
	EmailOrderFailure EmailKind = "order-failure"
)

// EmailLog is one entry of the append-only notification audit trail
type EmailLog struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id,omitempty"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Kind         EmailKind `json:"kind"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
