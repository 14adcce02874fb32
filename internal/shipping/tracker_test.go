package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/cache"
	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

func TestTracker_ValidatesAWB(t *testing.T) {
	provider := &mockProvider{}
	tracker := NewTracker(provider, nil, nil, 0, logging.NopLogger{})

	_, err := tracker.Track(context.Background(), "AB1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	provider.AssertNotCalled(t, "Track", mock.Anything, mock.Anything)
}

func TestTracker_CachesLookups(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Track", mock.Anything, "AWB123456").
		Return(&Tracking{AWBCode: "AWB123456", ShipmentStatus: "In Transit", Events: []map[string]interface{}{}}, nil).
		Once()

	tracker := NewTracker(provider, nil, cache.NewLocalCache(time.Minute, time.Minute), time.Minute, logging.NopLogger{})

	for i := 0; i < 3; i++ {
		tracking, err := tracker.Track(context.Background(), "AWB123456")
		require.NoError(t, err)
		assert.Equal(t, "In Transit", tracking.ShipmentStatus)
	}
	provider.AssertNumberOfCalls(t, "Track", 1)
}

func TestTracker_PropagatesNotFound(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Track", mock.Anything, "AWB00000").Return(nil, errors.NotFoundError("tracking"))

	_, err := NewTracker(provider, nil, nil, time.Minute, logging.NopLogger{}).Track(context.Background(), "AWB00000")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

type memoryStatusRecorder struct {
	calls map[string]models.ShippingStatus
	err   error
}

func (r *memoryStatusRecorder) AdvanceShippingStatus(ctx context.Context, trackingCode string, status models.ShippingStatus) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if r.calls == nil {
		r.calls = map[string]models.ShippingStatus{}
	}
	r.calls[trackingCode] = status
	return true, nil
}

func TestTracker_RecordsCarrierProgress(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Track", mock.Anything, "AWB123456").
		Return(&Tracking{AWBCode: "AWB123456", ShipmentStatus: "Delivered"}, nil).
		Once()
	provider.On("Track", mock.Anything, "AWB654321").
		Return(&Tracking{AWBCode: "AWB654321", ShipmentStatus: "Pickup Scheduled"}, nil).
		Once()

	recorder := &memoryStatusRecorder{}
	tracker := NewTracker(provider, recorder, cache.NewLocalCache(time.Minute, time.Minute), time.Minute, logging.NopLogger{})

	_, err := tracker.Track(context.Background(), "AWB123456")
	require.NoError(t, err)
	_, err = tracker.Track(context.Background(), "AWB654321")
	require.NoError(t, err)

	assert.Equal(t, map[string]models.ShippingStatus{"AWB123456": models.ShippingDelivered}, recorder.calls)
}

func TestTracker_RecorderFailureKeepsLookup(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Track", mock.Anything, "AWB123456").
		Return(&Tracking{AWBCode: "AWB123456", ShipmentStatus: "In Transit"}, nil)

	recorder := &memoryStatusRecorder{err: errors.InternalError("db down", nil)}
	tracking, err := NewTracker(provider, recorder, nil, 0, logging.NopLogger{}).Track(context.Background(), "AWB123456")
	require.NoError(t, err)
	assert.Equal(t, "In Transit", tracking.ShipmentStatus)
}

func TestShippingStatusFor(t *testing.T) {
	tests := []struct {
		status string
		want   models.ShippingStatus
		ok     bool
	}{
		{"Delivered", models.ShippingDelivered, true},
		{"IN TRANSIT", models.ShippingShipped, true},
		{"Picked Up", models.ShippingShipped, true},
		{"Out For Delivery", models.ShippingShipped, true},
		{"Undelivered", "", false},
		{"RTO Delivered", "", false},
		{"Pickup Scheduled", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, ok := ShippingStatusFor(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
