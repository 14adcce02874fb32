package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/storage"
)

const sweepBatch = 100

// SweeperConfig configures stalled-order detection
type SweeperConfig struct {
	// Schedule is a cron spec, descriptors such as "@every 10m" included
	Schedule   string
	StaleAfter time.Duration
}

// Sweeper periodically reports orders whose pipeline stopped before finishing.
// It only detects; recovery is an operator reprocess.
type Sweeper struct {
	store      storage.Store
	cron       *cron.Cron
	staleAfter time.Duration
	logger     logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	last    []*models.Order
}

func NewSweeper(store storage.Store, cfg SweeperConfig, logger logging.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Sweeper{
		store:      store,
		cron:       cron.New(),
		staleAfter: cfg.StaleAfter,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "stale_sweeper"}),
		now:        time.Now,
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, errors.ConfigError("invalid sweep schedule: " + err.Error())
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.logger.Info("Stale order sweeper started", logging.Field{Key: "stale_after", Value: s.staleAfter.String()})
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Stale order sweep failed", err)
	}
}

// Sweep logs every order stuck before done for longer than the stale window
// and returns them.
func (s *Sweeper) Sweep(ctx context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cutoff := s.now().Add(-s.staleAfter)
	stalled, err := s.store.ListStalledOrders(ctx, cutoff, sweepBatch)
	if err != nil {
		return nil, err
	}

	for _, order := range stalled {
		s.logger.Warn("Order fulfillment stalled, manual reprocess needed",
			logging.Field{Key: "order_id", Value: order.ID},
			logging.Field{Key: "payment_id", Value: order.PaymentID},
			logging.Field{Key: "state", Value: string(order.State)},
			logging.Field{Key: "updated_at", Value: order.UpdatedAt.Format(time.RFC3339)},
		)
	}

	s.mu.Lock()
	s.last = stalled
	s.mu.Unlock()
	return stalled, nil
}

// LastSweep returns the orders found by the most recent sweep
func (s *Sweeper) LastSweep() []*models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Order(nil), s.last...)
}
