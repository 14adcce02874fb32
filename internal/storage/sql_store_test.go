package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)

	store := NewSQLStore(db, DialectSQLite, logging.NopLogger{})
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOrder(paymentID string) *models.Order {
	return &models.Order{
		PaymentID:       paymentID,
		ProviderOrderID: "order_456",
		Customer:        models.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210"},
		Address: models.Address{
			Street: "12 MG Road", City: "Jaipur", State: "Rajasthan", PostalCode: "302001", Country: "India",
		},
		Items:          []models.LineItem{{Name: "Golden Sandal", Price: 1299, Quantity: 2}},
		Total:          2598,
		PaymentMethod:  "upi",
		PaymentDetails: json.RawMessage(`{"id":"` + paymentID + `","method":"upi"}`),
		Status:         models.OrderStatusPaid,
		ShippingStatus: models.ShippingNotShipped,
		Source:         models.SourceWeb,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	order := newTestOrder("pay_123")
	require.NoError(t, store.CreateOrder(ctx, order))
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.StateAdmitting, order.State)
	assert.WithinDuration(t, order.CreatedAt.Add(models.EstimatedDeliveryWindow), order.EstimatedDelivery, time.Second)

	got, err := store.GetOrderByPaymentID(ctx, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, int64(2598), got.Total)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.Equal(t, models.ShippingNotShipped, got.ShippingStatus)
	assert.Equal(t, order.Items, got.Items)
	assert.Equal(t, order.Address, got.Address)
	assert.JSONEq(t, string(order.PaymentDetails), string(got.PaymentDetails))

	byID, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_123", byID.PaymentID)
}

func TestGetOrderNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetOrderByPaymentID(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrderDuplicatePayment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, newTestOrder("pay_dup")))
	err := store.CreateOrder(ctx, newTestOrder("pay_dup"))
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestCreateOrderConcurrentSamePayment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateOrder(ctx, newTestOrder("pay_race"))
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				created++
			case ErrDuplicatePayment:
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)

	var count int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM orders WHERE payment_id = ?", "pay_race").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpdateFulfillmentKeepsPaymentStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	order := newTestOrder("pay_upd")
	require.NoError(t, store.CreateOrder(ctx, order))

	f := models.Fulfillment{
		State:           models.StateInvoicing,
		ShipmentOrderID: "SR-1",
		ShipmentID:      "SH-1",
		AdminNotes:      "Shipping setup had issues. Manual processing may be needed.",
	}
	require.NoError(t, store.UpdateFulfillment(ctx, order.ID, f, models.ShippingNotShipped))

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.Equal(t, f, got.Fulfillment)
	assert.True(t, !got.UpdatedAt.Before(got.CreatedAt))

	assert.ErrorIs(t, store.UpdateFulfillment(ctx, "missing", f, models.ShippingNotShipped), ErrNotFound)
}

func TestAdvanceShippingStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	order := newTestOrder("pay_ship")
	require.NoError(t, store.CreateOrder(ctx, order))
	f := models.Fulfillment{State: models.StateDone, TrackingCode: "AWB123456"}
	require.NoError(t, store.UpdateFulfillment(ctx, order.ID, f, models.ShippingNotShipped))

	changed, err := store.AdvanceShippingStatus(ctx, "AWB123456", models.ShippingShipped)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.AdvanceShippingStatus(ctx, "AWB123456", models.ShippingShipped)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.AdvanceShippingStatus(ctx, "AWB123456", models.ShippingDelivered)
	require.NoError(t, err)
	assert.True(t, changed)

	// delivered is final
	changed, err = store.AdvanceShippingStatus(ctx, "AWB123456", models.ShippingShipped)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShippingDelivered, got.ShippingStatus)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	changed, err = store.AdvanceShippingStatus(ctx, "AWB-unknown", models.ShippingShipped)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestListStalledOrders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	stuck := newTestOrder("pay_stuck")
	require.NoError(t, store.CreateOrder(ctx, stuck))

	finished := newTestOrder("pay_done")
	require.NoError(t, store.CreateOrder(ctx, finished))
	require.NoError(t, store.UpdateFulfillment(ctx, finished.ID, models.Fulfillment{State: models.StateDone}, models.ShippingShipped))

	store.now = func() time.Time { return base.Add(time.Hour) }
	fresh := newTestOrder("pay_fresh")
	require.NoError(t, store.CreateOrder(ctx, fresh))

	stalled, err := store.ListStalledOrders(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "pay_stuck", stalled[0].PaymentID)
}

func TestEmailLogs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogEmail(ctx, &models.EmailLog{
		OrderID: "ord_1", Recipient: "asha@example.com", Subject: "Your SAMAA Order Confirmation",
		Kind: models.EmailOrderSuccess, Success: false, ErrorMessage: "smtp: connection refused",
	}))
	require.NoError(t, store.LogEmail(ctx, &models.EmailLog{
		OrderID: "ord_1", Recipient: "asha@example.com", Subject: "Your SAMAA Order Confirmation",
		Kind: models.EmailOrderSuccess, Success: true,
	}))

	logs, err := store.ListEmailLogs(ctx, "ord_1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "smtp: connection refused", logs[0].ErrorMessage)
	assert.Equal(t, models.EmailOrderSuccess, logs[1].Kind)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))

	var n int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM orders WHERE id = ? AND payment_id = ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "SELECT * FROM orders WHERE id = $1 AND payment_id = $2", rebind(DialectPostgres, q))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a(x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a(x)"}, stmts)
}
