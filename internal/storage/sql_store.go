package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lucsky/cuid"
	"github.com/mattn/go-sqlite3"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const orderColumns = `id, payment_id, provider_order_id, customer_name, customer_email, customer_phone,
	street, city, state, postal_code, country, items, total, payment_method, payment_details,
	status, shipping_status, source, is_test_order, fulfillment_state, shipment_order_id, shipment_id,
	tracking_code, carrier_name, pickup_reference, label_url, manifest_url, invoice_url, admin_notes,
	estimated_delivery, created_at, updated_at`

// SQLStore implements Store on database/sql for both SQLite and PostgreSQL.
// Queries are written with ? placeholders and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  logging.Logger
	now     func() time.Time
}

// NewSQLStore wraps an open database handle. Run Migrate before first use.
func NewSQLStore(db *sql.DB, dialect string, logger logging.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "order_store"}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the handle for migrations and health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded schema for this dialect
func (s *SQLStore) Migrate(ctx context.Context) error {
	return NewMigrationManager(s.db, s.dialect, s.logger).RunMigrations(ctx)
}

func (s *SQLStore) rebind(query string) string {
	return rebind(s.dialect, query)
}

// rebind rewrites ? placeholders to $n for postgres
func rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) CreateOrder(ctx context.Context, order *models.Order) error {
	now := s.now()
	if order.ID == "" {
		order.ID = cuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.EstimatedDelivery.IsZero() {
		order.EstimatedDelivery = order.CreatedAt.Add(models.EstimatedDeliveryWindow)
	}
	if order.Fulfillment.State == "" {
		order.Fulfillment.State = models.StateAdmitting
	}

	items, err := json.Marshal(order.Items)
	if err != nil {
		return errors.InternalError("failed to encode line items", err)
	}
	var details interface{}
	if len(order.PaymentDetails) > 0 {
		details = string(order.PaymentDetails)
	}

	f := order.Fulfillment
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.PaymentID, order.ProviderOrderID,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		order.Address.Street, order.Address.City, order.Address.State, order.Address.PostalCode, order.Address.Country,
		string(items), order.Total, order.PaymentMethod, details,
		string(order.Status), string(order.ShippingStatus), string(order.Source), order.IsTestOrder,
		string(f.State), f.ShipmentOrderID, f.ShipmentID, f.TrackingCode, f.CarrierName, f.PickupReference,
		f.LabelURL, f.ManifestURL, f.InvoiceURL, f.AdminNotes,
		order.EstimatedDelivery, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return errors.InternalError("failed to insert order", err)
	}
	return nil
}

func (s *SQLStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	return scanOrder(row)
}

func (s *SQLStore) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders WHERE payment_id = ?`), paymentID)
	return scanOrder(row)
}

func (s *SQLStore) UpdateFulfillment(ctx context.Context, orderID string, f models.Fulfillment, shipping models.ShippingStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE orders SET
		fulfillment_state = ?, shipment_order_id = ?, shipment_id = ?, tracking_code = ?, carrier_name = ?,
		pickup_reference = ?, label_url = ?, manifest_url = ?, invoice_url = ?, admin_notes = ?,
		shipping_status = ?, updated_at = ?
		WHERE id = ?`),
		string(f.State), f.ShipmentOrderID, f.ShipmentID, f.TrackingCode, f.CarrierName,
		f.PickupReference, f.LabelURL, f.ManifestURL, f.InvoiceURL, f.AdminNotes,
		string(shipping), s.now(), orderID,
	)
	if err != nil {
		return errors.InternalError("failed to update order fulfillment", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceShippingStatus moves the order carrying trackingCode forward to status.
// Delivered orders are never moved back. It reports whether a row changed.
func (s *SQLStore) AdvanceShippingStatus(ctx context.Context, trackingCode string, status models.ShippingStatus) (bool, error) {
	if trackingCode == "" || status == models.ShippingNotShipped {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE orders SET shipping_status = ?, updated_at = ?
		WHERE tracking_code = ? AND shipping_status <> ? AND shipping_status <> ?`),
		string(status), s.now(), trackingCode, string(status), string(models.ShippingDelivered),
	)
	if err != nil {
		return false, errors.InternalError("failed to update shipping status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

func (s *SQLStore) ListStalledOrders(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders
		WHERE fulfillment_state NOT IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`),
		string(models.StateDone), string(models.StateFailed), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, errors.InternalError("failed to list stalled orders", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLStore) LogEmail(ctx context.Context, entry *models.EmailLog) error {
	if entry.ID == "" {
		entry.ID = cuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO email_logs
		(id, order_id, recipient, subject, kind, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.OrderID, entry.Recipient, entry.Subject, string(entry.Kind),
		entry.Success, entry.ErrorMessage, entry.CreatedAt,
	)
	if err != nil {
		return errors.InternalError("failed to write email log", err)
	}
	return nil
}

func (s *SQLStore) ListEmailLogs(ctx context.Context, orderID string) ([]*models.EmailLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, order_id, recipient, subject, kind, success, error_message, created_at
		FROM email_logs WHERE order_id = ? ORDER BY created_at ASC`), orderID)
	if err != nil {
		return nil, errors.InternalError("failed to list email logs", err)
	}
	defer rows.Close()

	var logs []*models.EmailLog
	for rows.Next() {
		var (
			l    models.EmailLog
			kind string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Recipient, &l.Subject, &kind, &l.Success, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan email log", err)
		}
		l.Kind = models.EmailKind(kind)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *SQLStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.ConnectionError("database unreachable", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                               models.Order
		items                           string
		details                         sql.NullString
		status, shipping, source, state string
		estimated                       sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.PaymentID, &o.ProviderOrderID,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Address.Street, &o.Address.City, &o.Address.State, &o.Address.PostalCode, &o.Address.Country,
		&items, &o.Total, &o.PaymentMethod, &details,
		&status, &shipping, &source, &o.IsTestOrder,
		&state, &o.ShipmentOrderID, &o.ShipmentID, &o.TrackingCode, &o.CarrierName, &o.PickupReference,
		&o.LabelURL, &o.ManifestURL, &o.InvoiceURL, &o.AdminNotes,
		&estimated, &o.CreatedAt, &o.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.InternalError("failed to scan order", err)
	}

	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, errors.InternalError(fmt.Sprintf("corrupt line items on order %s", o.ID), err)
	}
	if details.Valid && details.String != "" {
		o.PaymentDetails = json.RawMessage(details.String)
	}
	if estimated.Valid {
		o.EstimatedDelivery = estimated.Time
	}
	o.Status = models.OrderStatus(status)
	o.ShippingStatus = models.ShippingStatus(shipping)
	o.Source = models.Source(source)
	o.State = models.FulfillmentState(state)
	return &o, nil
}

// isUniqueViolation recognises duplicate-key errors from either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
