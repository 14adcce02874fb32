// Package fulfillment admits verified payments as orders and drives each new
// order through shipment provisioning, document generation and customer
// notification.
//
// Admission is the only step allowed to fail an order. Once an order exists
// every later stage is best effort: a failure is written onto the order as an
// operator annotation and the pipeline moves on to the next stage.
package fulfillment

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/invoice"
	"storefront-fulfillment/internal/locks"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/notify"
	"storefront-fulfillment/internal/shipping"
	"storefront-fulfillment/internal/storage"
)

const (
	NoteProcessing     = "Processing shipping and invoices..."
	NoteShippingIssues = "Shipping setup had issues. Manual processing may be needed."
	NoteProcessed      = "Order processed successfully"

	// DefaultLockTTL covers a full run: provisioning, documents and mail
	DefaultLockTTL = 3 * time.Minute
)

// ShipmentProvisioner creates the carrier shipment for an order
type ShipmentProvisioner interface {
	Provision(ctx context.Context, order *models.Order) (*shipping.Shipment, error)
}

// DocumentGenerator produces the confirmation attachments. It never fails.
type DocumentGenerator interface {
	Generate(ctx context.Context, order *models.Order, shipment *shipping.Shipment) *invoice.Documents
}

// Runner executes the post-admission pipeline for one order
type Runner interface {
	Fulfill(ctx context.Context, order *models.Order) (*Outcome, error)
	FulfillOrderID(ctx context.Context, orderID string) (*Outcome, error)
}

// Outcome is what one pipeline run produced
type Outcome struct {
	Order       *models.Order
	Shipment    *shipping.Shipment
	ShipmentErr error
	Documents   *invoice.Documents
	NotifyErr   error
}

// Pipeline runs provisioning, invoicing and notification for admitted orders
type Pipeline struct {
	store       storage.Store
	provisioner ShipmentProvisioner
	documents   DocumentGenerator
	notifier    notify.Notifier
	locker      locks.Locker
	lockTTL     time.Duration
	logger      logging.Logger
}

var _ Runner = (*Pipeline)(nil)

// PipelineDeps are the collaborators of a Pipeline
type PipelineDeps struct {
	Store       storage.Store
	Provisioner ShipmentProvisioner
	Documents   DocumentGenerator
	Notifier    notify.Notifier
	Locker      locks.Locker
	LockTTL     time.Duration
}

func NewPipeline(deps PipelineDeps, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if deps.Locker == nil {
		deps.Locker = locks.NewLocalLocker()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	return &Pipeline{
		store:       deps.Store,
		provisioner: deps.Provisioner,
		documents:   deps.Documents,
		notifier:    deps.Notifier,
		locker:      deps.Locker,
		lockTTL:     deps.LockTTL,
		logger:      logger.WithFields(logging.Field{Key: "component", Value: "fulfillment_pipeline"}),
	}
}

// FulfillOrderID loads an order and runs the pipeline for it
func (p *Pipeline) FulfillOrderID(ctx context.Context, orderID string) (*Outcome, error) {
	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFoundError("order").WithContext("order_id", orderID)
		}
		return nil, err
	}
	return p.Fulfill(ctx, order)
}

// Fulfill runs the post-admission stages for order. Only one run per payment
// may be in flight; a concurrent call fails with a conflict error. Stage
// failures do not abort the run and are reported on the Outcome.
func (p *Pipeline) Fulfill(ctx context.Context, order *models.Order) (*Outcome, error) {
	ctx = logging.ContextWithOrder(ctx, order.ID, order.PaymentID)
	logger := p.logger.WithContext(ctx)

	lock, err := p.locker.TryAcquire(ctx, locks.FulfillmentKey(order.PaymentID), p.lockTTL)
	if err != nil {
		logger.Warn("Fulfillment already running for payment", logging.Field{Key: "error", Value: err.Error()})
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release fulfillment lock", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	start := time.Now()
	outcome := &Outcome{Order: order}
	f := order.Fulfillment
	shippingStatus := order.ShippingStatus
	if shippingStatus == "" {
		shippingStatus = models.ShippingNotShipped
	}

	f.State = models.StateProvisioning
	p.persist(ctx, logger, order, f, shippingStatus)

	if p.provisioner == nil {
		outcome.ShipmentErr = errors.ConfigError("shipment provisioner is not configured")
	} else {
		outcome.Shipment, outcome.ShipmentErr = p.provisioner.Provision(ctx, order)
	}
	applyShipment(&f, outcome.Shipment, outcome.ShipmentErr)
	if outcome.ShipmentErr != nil {
		logger.Error("Shipment provisioning failed", outcome.ShipmentErr)
	} else {
		logger.Info("Shipment provisioned",
			logging.Field{Key: "tracking_code", Value: f.TrackingCode},
			logging.Field{Key: "carrier", Value: f.CarrierName},
		)
	}

	f.State = models.StateInvoicing
	p.persist(ctx, logger, order, f, shippingStatus)

	if p.documents != nil {
		outcome.Documents = p.documents.Generate(ctx, order, outcome.Shipment)
	} else {
		outcome.Documents = &invoice.Documents{}
	}

	f.State = models.StateNotifying
	p.persist(ctx, logger, order, f, shippingStatus)

	if p.notifier == nil {
		outcome.NotifyErr = errors.ConfigError("notifier is not configured")
	} else {
		outcome.NotifyErr = p.notifier.SendConfirmation(ctx, order, outcome.Documents)
	}
	if outcome.NotifyErr != nil {
		f.AdminNotes += " Confirmation email failed: " + outcome.NotifyErr.Error()
	}

	f.State = models.StateDone
	p.persist(ctx, logger, order, f, shippingStatus)

	logger.Info("Fulfillment finished",
		logging.Field{Key: "duration", Value: time.Since(start).String()},
		logging.Field{Key: "shipment_ok", Value: outcome.ShipmentErr == nil},
		logging.Field{Key: "documents_complete", Value: outcome.Documents.Complete()},
		logging.Field{Key: "email_sent", Value: outcome.NotifyErr == nil},
	)
	return outcome, nil
}

// persist writes annotations. A failed write is logged and the run continues
// with the in-memory copy.
func (p *Pipeline) persist(ctx context.Context, logger logging.Logger, order *models.Order, f models.Fulfillment, shippingStatus models.ShippingStatus) {
	order.Fulfillment = f
	order.ShippingStatus = shippingStatus
	if err := p.store.UpdateFulfillment(context.WithoutCancel(ctx), order.ID, f, shippingStatus); err != nil {
		logger.Error("Failed to persist fulfillment annotations", err, logging.Field{Key: "state", Value: string(f.State)})
	}
}

func applyShipment(f *models.Fulfillment, s *shipping.Shipment, err error) {
	if s != nil {
		if s.OrderID != 0 {
			f.ShipmentOrderID = strconv.FormatInt(s.OrderID, 10)
		}
		if s.ShipmentID != 0 {
			f.ShipmentID = strconv.FormatInt(s.ShipmentID, 10)
		}
		f.TrackingCode = s.TrackingCode
		f.CarrierName = s.CarrierName
		f.PickupReference = s.PickupReference
		f.LabelURL = s.LabelURL
		f.ManifestURL = s.ManifestURL
		f.InvoiceURL = s.InvoiceURL
	}

	switch {
	case err != nil:
		f.AdminNotes = NoteShippingIssues + " " + shipmentFailure(s, err)
	case s != nil && s.PickupReference != "":
		f.AdminNotes = fmt.Sprintf("Pickup confirmed by %s: %s", s.CarrierName, s.PickupReference)
	default:
		f.AdminNotes = NoteProcessed
	}
}

func shipmentFailure(s *shipping.Shipment, err error) string {
	if s != nil && s.FailedStep != "" {
		return fmt.Sprintf("Failed at %s: %v", s.FailedStep, err)
	}
	return "Error: " + err.Error()
}
