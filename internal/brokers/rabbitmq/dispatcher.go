// Package rabbitmq carries fulfillment jobs over a durable RabbitMQ queue so
// an admitted order survives a process restart before its pipeline runs.
package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/streadway/amqp"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/fulfillment"
	"storefront-fulfillment/internal/models"
)

// Job is the queued message body
type Job struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// Dispatcher publishes fulfillment jobs and consumes them with a Runner
type Dispatcher struct {
	config *Config
	pool   ConnectionPoolInterface
	runner fulfillment.Runner
	logger logging.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	done     chan struct{}
}

var _ fulfillment.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher dials the broker
func NewDispatcher(config *Config, runner fulfillment.Runner, logger logging.Logger) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	pool, err := NewConnectionPool(config.URL, config.PoolSize, logger)
	if err != nil {
		return nil, err
	}
	return NewDispatcherWithPool(config, pool, runner, logger)
}

// NewDispatcherWithPool creates a dispatcher over an existing pool
func NewDispatcherWithPool(config *Config, pool ConnectionPoolInterface, runner fulfillment.Runner, logger logging.Logger) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		config: config,
		pool:   pool,
		runner: runner,
		logger: logger.WithFields(
			logging.Field{Key: "component", Value: "rabbitmq_dispatcher"},
			logging.Field{Key: "broker", Value: config.GetConnectionString()},
			logging.Field{Key: "queue", Value: config.Queue},
		),
	}, nil
}

// Dispatch enqueues a job for order
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order) error {
	body, err := json.Marshal(Job{OrderID: order.ID, PaymentID: order.PaymentID})
	if err != nil {
		return errors.InternalError("failed to encode fulfillment job", err)
	}

	client, err := d.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	defer client.Close()

	if err := client.PublishPersistent(d.config.Queue, order.ID, body); err != nil {
		return errors.ConnectionError("failed to publish fulfillment job", err)
	}

	d.logger.WithContext(ctx).Debug("Fulfillment job queued", logging.Field{Key: "order_id", Value: order.ID})
	return nil
}

// Start consumes jobs until ctx is cancelled or Close is called
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.runner == nil {
		return errors.ConfigError("rabbitmq dispatcher has no runner to consume with")
	}

	client, err := d.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}

	if _, err := client.QueueDeclare(d.config.Queue, true, false, false, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to declare queue "+d.config.Queue, err)
	}
	if err := client.Qos(d.config.Prefetch); err != nil {
		client.Close()
		return errors.InternalError("failed to set prefetch", err)
	}

	msgs, err := client.Consume(d.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.InternalError("failed to start consuming from queue "+d.config.Queue, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	sem := make(chan struct{}, d.config.Prefetch)

	go func() {
		defer close(done)
		defer client.Close()
		for {
			select {
			case <-ctx.Done():
				d.logger.Info("Fulfillment consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					d.logger.Warn("Fulfillment queue channel closed")
					return
				}
				sem <- struct{}{}
				d.inflight.Add(1)
				go func(msg amqp.Delivery) {
					defer func() { <-sem }()
					defer d.inflight.Done()
					d.handle(ctx, msg)
				}(msg)
			}
		}
	}()

	d.logger.Info("Fulfillment consumer started", logging.Field{Key: "prefetch", Value: d.config.Prefetch})
	return nil
}

// handle acks finished and unrecoverable jobs. A job that failed for a
// transient reason is requeued once.
func (d *Dispatcher) handle(ctx context.Context, msg amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.OrderID == "" {
		d.logger.Warn("Dropping malformed fulfillment job", logging.Field{Key: "message_id", Value: msg.MessageId})
		_ = msg.Ack(false)
		return
	}

	runCtx := logging.ContextWithOrder(context.WithoutCancel(ctx), job.OrderID, job.PaymentID)
	_, err := d.runner.FulfillOrderID(runCtx, job.OrderID)

	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.IsType(err, errors.ErrTypeNotFound), errors.IsType(err, errors.ErrTypeConflict):
		d.logger.WithContext(runCtx).Warn("Fulfillment job skipped", logging.Field{Key: "error", Value: err.Error()})
		_ = msg.Ack(false)
	case msg.Redelivered:
		d.logger.WithContext(runCtx).Error("Fulfillment job failed after redelivery", err)
		_ = msg.Ack(false)
	default:
		d.logger.WithContext(runCtx).Warn("Fulfillment job failed, requeueing", logging.Field{Key: "error", Value: err.Error()})
		_ = msg.Nack(false, true)
	}
}

// Close stops consuming, waits for running jobs or ctx, and closes the pool
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	finished := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.pool.Close()
	return err
}
