package shipping

import (
	"context"
	"strings"
	"time"

	"storefront-fulfillment/internal/common/cache"
	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

// MinAWBLength is the shortest tracking code worth sending to the provider
const MinAWBLength = 5

// TrackingLookup is the slice of Provider the tracker needs
type TrackingLookup interface {
	Track(ctx context.Context, awb string) (*Tracking, error)
}

// StatusRecorder persists carrier progress onto the order with the tracking code
type StatusRecorder interface {
	AdvanceShippingStatus(ctx context.Context, trackingCode string, status models.ShippingStatus) (bool, error)
}

// Tracker answers tracking lookups through a short-lived cache. Fresh
// provider answers are written back to the order when a recorder is set.
type Tracker struct {
	provider TrackingLookup
	recorder StatusRecorder
	cache    cache.Cache
	ttl      time.Duration
	logger   logging.Logger
}

func NewTracker(provider TrackingLookup, recorder StatusRecorder, c cache.Cache, ttl time.Duration, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Tracker{
		provider: provider,
		recorder: recorder,
		cache:    c,
		ttl:      ttl,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "tracker"}),
	}
}

func (t *Tracker) Track(ctx context.Context, awb string) (*Tracking, error) {
	awb = strings.TrimSpace(awb)
	if len(awb) < MinAWBLength {
		return nil, errors.ValidationError("invalid AWB code").WithContext("awb", awb)
	}

	key := "tracking:" + awb
	if t.cache != nil && t.ttl > 0 {
		var cached Tracking
		found, err := t.cache.Get(ctx, key, &cached)
		if err != nil {
			t.logger.Warn("Tracking cache read failed", logging.Field{Key: "error", Value: err.Error()})
		} else if found {
			return &cached, nil
		}
	}

	tracking, err := t.provider.Track(ctx, awb)
	if err != nil {
		return nil, err
	}
	t.recordStatus(ctx, awb, tracking)

	if t.cache != nil && t.ttl > 0 {
		if err := t.cache.Set(ctx, key, tracking, t.ttl); err != nil {
			t.logger.Warn("Tracking cache write failed", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return tracking, nil
}

func (t *Tracker) recordStatus(ctx context.Context, awb string, tracking *Tracking) {
	if t.recorder == nil {
		return
	}
	status, ok := ShippingStatusFor(tracking.ShipmentStatus)
	if !ok {
		return
	}
	changed, err := t.recorder.AdvanceShippingStatus(ctx, awb, status)
	if err != nil {
		t.logger.Warn("Failed to record shipping status",
			logging.Field{Key: "awb", Value: awb},
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	if changed {
		t.logger.Info("Shipping status updated", logging.Field{Key: "awb", Value: awb}, logging.Field{Key: "status", Value: string(status)})
	}
}

// ShippingStatusFor maps a carrier status line onto the order shipping status.
// Returns false for states that say nothing about progress, returns included.
func ShippingStatusFor(carrierStatus string) (models.ShippingStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(carrierStatus))
	switch {
	case s == "":
		return "", false
	case strings.Contains(s, "rto"), strings.Contains(s, "undelivered"), strings.Contains(s, "cancel"):
		return "", false
	case strings.Contains(s, "delivered"):
		return models.ShippingDelivered, true
	case strings.Contains(s, "picked"), strings.Contains(s, "transit"), strings.Contains(s, "shipped"),
		strings.Contains(s, "out for delivery"), strings.Contains(s, "reached"):
		return models.ShippingShipped, true
	default:
		return "", false
	}
}
