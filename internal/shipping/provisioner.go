package shipping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/models"
)

// Step names one call of the provisioning sequence
type Step string

const (
	StepCreateShipment    Step = "create_shipment"
	StepAssignAWB         Step = "assign_awb"
	StepRequestPickup     Step = "request_pickup"
	StepGenerateDocuments Step = "generate_documents"
)

// Shipment is what provisioning obtained. When FailedStep is set, the fields
// filled by earlier steps are still valid.
type Shipment struct {
	OrderID         int64
	ShipmentID      int64
	TrackingCode    string
	CarrierName     string
	PickupReference string
	LabelURL        string
	ManifestURL     string
	InvoiceURL      string

	FailedStep Step
	Err        error
}

// Complete reports whether all four steps succeeded
func (s *Shipment) Complete() bool {
	return s.FailedStep == "" && s.Err == nil
}

// Ref returns the provider identifiers, zero when creation failed
func (s *Shipment) Ref() ShipmentRef {
	return ShipmentRef{OrderID: s.OrderID, ShipmentID: s.ShipmentID}
}

// Provisioner books a shipment for a paid order
type Provisioner struct {
	provider Provider
	timeout  time.Duration
	logger   logging.Logger
}

// NewProvisioner creates a provisioner; timeout bounds the whole sequence
func NewProvisioner(provider Provider, timeout time.Duration, logger logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Provisioner{
		provider: provider,
		timeout:  timeout,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "provisioner"}),
	}
}

// progress is written by the running sequence and read once it ends or times out
type progress struct {
	mu       sync.Mutex
	shipment Shipment
	current  Step
}

func (p *progress) begin(step Step) {
	p.mu.Lock()
	p.current = step
	p.mu.Unlock()
}

func (p *progress) record(update func(*Shipment)) {
	p.mu.Lock()
	update(&p.shipment)
	p.mu.Unlock()
}

func (p *progress) snapshot() (Shipment, Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shipment, p.current
}

// Provision runs create, assign AWB, pickup and documents in order. The first
// failure, including running out of the overall budget, stops the sequence;
// the returned Shipment then carries what earlier steps produced along with
// FailedStep and the error, which is also returned.
func (p *Provisioner) Provision(ctx context.Context, order *models.Order) (*Shipment, error) {
	logger := p.logger.WithContext(ctx).WithFields(logging.Field{Key: "order_id", Value: order.ID})
	state := &progress{}

	err := utils.RunWithTimeout(ctx, p.timeout, "shipment provisioning", func(ctx context.Context) error {
		return p.run(ctx, order, state)
	})

	shipment, current := state.snapshot()
	if err != nil {
		shipment.FailedStep = current
		shipment.Err = fmt.Errorf("%s: %w", current, err)
		logger.Error("Shipment provisioning stopped", err,
			logging.Field{Key: "failed_step", Value: string(current)},
			logging.Field{Key: "shipment_id", Value: shipment.ShipmentID},
		)
		return &shipment, shipment.Err
	}

	if shipment.InvoiceURL == "" {
		shipment.InvoiceURL = shipment.LabelURL
	}
	logger.Info("Shipment provisioned",
		logging.Field{Key: "shipment_id", Value: shipment.ShipmentID},
		logging.Field{Key: "awb", Value: shipment.TrackingCode},
		logging.Field{Key: "carrier", Value: shipment.CarrierName},
	)
	return &shipment, nil
}

func (p *Provisioner) run(ctx context.Context, order *models.Order, state *progress) error {
	state.begin(StepCreateShipment)
	created, err := p.provider.CreateShipment(ctx, order)
	if err != nil {
		return err
	}
	state.record(func(s *Shipment) {
		s.OrderID = created.OrderID
		s.ShipmentID = created.ShipmentID
	})

	state.begin(StepAssignAWB)
	awb, err := p.provider.AssignAWB(ctx, created.ShipmentID)
	if err != nil {
		return err
	}
	state.record(func(s *Shipment) {
		s.TrackingCode = awb.TrackingCode
		s.CarrierName = awb.CarrierName
	})

	state.begin(StepRequestPickup)
	pickup, err := p.provider.RequestPickup(ctx, created.ShipmentID)
	if err != nil {
		return err
	}
	state.record(func(s *Shipment) {
		s.PickupReference = pickup.Confirmation
	})

	state.begin(StepGenerateDocuments)
	docs, err := p.provider.GenerateDocuments(ctx, ShipmentRef{OrderID: created.OrderID, ShipmentID: created.ShipmentID})
	if err != nil {
		return err
	}
	state.record(func(s *Shipment) {
		s.LabelURL = docs.LabelURL
		s.ManifestURL = docs.ManifestURL
		s.InvoiceURL = docs.InvoiceURL
	})
	return nil
}
