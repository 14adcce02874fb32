// Package invoice gathers the two documents attached to an order confirmation:
// the storefront's own invoice, rendered by the PDF service, and the carrier's
// tax invoice. Each degrades to an empty placeholder on failure.
package invoice

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/shipping"
)

// Renderer produces the storefront invoice PDF
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) ([]byte, error)
}

// TaxInvoiceSource downloads the carrier tax invoice for a provider order
type TaxInvoiceSource interface {
	FetchTaxInvoice(ctx context.Context, shipmentOrderID int64) ([]byte, error)
}

// Documents are the attachments for one order. A nil slice is the empty placeholder.
type Documents struct {
	Invoice    []byte
	TaxInvoice []byte

	InvoiceErr    error
	TaxInvoiceErr error
	// TaxInvoiceSkipped is set when no provider order existed to fetch from
	TaxInvoiceSkipped bool
}

// Complete reports whether both documents were produced
func (d *Documents) Complete() bool {
	return len(d.Invoice) > 0 && len(d.TaxInvoice) > 0
}

// Generator fetches both documents concurrently
type Generator struct {
	renderer Renderer
	carrier  TaxInvoiceSource
	timeout  time.Duration
	logger   logging.Logger
}

// NewGenerator creates a generator. A nil renderer or carrier source leaves
// the matching document as a placeholder.
func NewGenerator(renderer Renderer, carrier TaxInvoiceSource, timeout time.Duration, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Generator{
		renderer: renderer,
		carrier:  carrier,
		timeout:  timeout,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "invoice"}),
	}
}

// Generate never fails: each document runs under its own timeout and a failure
// is recorded on the result without cancelling the other fetch.
func (g *Generator) Generate(ctx context.Context, order *models.Order, shipment *shipping.Shipment) *Documents {
	logger := g.logger.WithContext(ctx).WithFields(logging.Field{Key: "order_id", Value: order.ID})
	docs := &Documents{}

	tracking := "NA"
	var shipmentOrderID int64
	if shipment != nil {
		if shipment.TrackingCode != "" {
			tracking = shipment.TrackingCode
		}
		shipmentOrderID = shipment.OrderID
	}

	var group errgroup.Group

	group.Go(func() error {
		if g.renderer == nil {
			docs.InvoiceErr = errors.ConfigError("invoice renderer is not configured")
			return nil
		}
		pdf, err := utils.CallWithTimeout(ctx, g.timeout, "invoice render", func(ctx context.Context) ([]byte, error) {
			return g.renderer.Render(ctx, NewRenderRequest(order, tracking))
		})
		if err == nil && len(pdf) == 0 {
			err = errors.ValidationError("invoice renderer returned an empty document")
		}
		if err != nil {
			docs.InvoiceErr = err
			logger.Warn("Invoice render failed, attaching placeholder", logging.Field{Key: "error", Value: err.Error()})
			return nil
		}
		docs.Invoice = pdf
		return nil
	})

	group.Go(func() error {
		if shipmentOrderID == 0 || g.carrier == nil {
			docs.TaxInvoiceSkipped = true
			return nil
		}
		pdf, err := utils.CallWithTimeout(ctx, g.timeout, "tax invoice fetch", func(ctx context.Context) ([]byte, error) {
			return g.carrier.FetchTaxInvoice(ctx, shipmentOrderID)
		})
		if err != nil {
			docs.TaxInvoiceErr = err
			logger.Warn("Tax invoice fetch failed, attaching placeholder", logging.Field{Key: "error", Value: err.Error()})
			return nil
		}
		docs.TaxInvoice = pdf
		return nil
	})

	_ = group.Wait()
	return docs
}
