package fulfillment

import (
	"context"
	"sync"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

// InProcessDispatcher runs each pipeline on its own goroutine, detached from
// the request that admitted the order. Work in flight is lost if the process
// dies; the sweeper reports such orders.
type InProcessDispatcher struct {
	runner Runner
	logger logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Dispatcher = (*InProcessDispatcher)(nil)

func NewInProcessDispatcher(runner Runner, logger logging.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &InProcessDispatcher{
		runner: runner,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "inprocess_dispatcher"}),
	}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, order *models.Order) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.InternalError("dispatcher is shut down", nil)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// keep request-scoped values for logging but drop its cancellation
	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Fulfillment panicked", errors.InternalError("panic", nil),
					logging.Field{Key: "order_id", Value: order.ID},
					logging.Field{Key: "panic", Value: r})
			}
		}()

		if _, err := d.runner.Fulfill(bg, order); err != nil {
			d.logger.WithContext(bg).Warn("Fulfillment did not run",
				logging.Field{Key: "order_id", Value: order.ID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}()
	return nil
}

// Close stops accepting work and waits for running pipelines or ctx
func (d *InProcessDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("Shutdown interrupted running fulfillments")
		return ctx.Err()
	}
}
