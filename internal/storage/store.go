// Package storage persists orders and the notification audit log.
//
// The orders table carries a unique index on payment_id; that index is what
// makes admission idempotent when the direct callback and the webhook race.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"storefront-fulfillment/internal/models"
)

var (
	// ErrDuplicatePayment is returned by CreateOrder when an order already exists for the payment id
	ErrDuplicatePayment = stderrors.New("order already exists for payment")
	// ErrNotFound is returned by lookups that match nothing
	ErrNotFound = stderrors.New("not found")
)

// Store is the persistence boundary for the fulfillment pipeline
type Store interface {
	// CreateOrder inserts a new order. ID, timestamps and estimated delivery
	// are filled in when empty.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	// UpdateFulfillment writes pipeline annotations. It never touches the payment status.
	UpdateFulfillment(ctx context.Context, orderID string, f models.Fulfillment, shipping models.ShippingStatus) error
	// AdvanceShippingStatus records carrier progress for the order with the tracking code
	AdvanceShippingStatus(ctx context.Context, trackingCode string, status models.ShippingStatus) (bool, error)
	// ListStalledOrders returns orders whose pipeline has not reached a terminal state
	// and whose last update is older than the cutoff.
	ListStalledOrders(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Order, error)

	LogEmail(ctx context.Context, entry *models.EmailLog) error
	ListEmailLogs(ctx context.Context, orderID string) ([]*models.EmailLog, error)

	Health(ctx context.Context) error
	Close() error
}
