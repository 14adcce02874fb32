package shipping

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/models"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateShipment(ctx context.Context, order *models.Order) (*CreatedShipment, error) {
	args := m.Called(ctx, order)
	created, _ := args.Get(0).(*CreatedShipment)
	return created, args.Error(1)
}

func (m *mockProvider) AssignAWB(ctx context.Context, shipmentID int64) (*AWBAssignment, error) {
	args := m.Called(ctx, shipmentID)
	awb, _ := args.Get(0).(*AWBAssignment)
	return awb, args.Error(1)
}

func (m *mockProvider) RequestPickup(ctx context.Context, shipmentID int64) (*PickupConfirmation, error) {
	args := m.Called(ctx, shipmentID)
	pickup, _ := args.Get(0).(*PickupConfirmation)
	return pickup, args.Error(1)
}

func (m *mockProvider) GenerateDocuments(ctx context.Context, ref ShipmentRef) (*DocumentURLs, error) {
	args := m.Called(ctx, ref)
	docs, _ := args.Get(0).(*DocumentURLs)
	return docs, args.Error(1)
}

func (m *mockProvider) FetchTaxInvoice(ctx context.Context, shipmentOrderID int64) ([]byte, error) {
	args := m.Called(ctx, shipmentOrderID)
	pdf, _ := args.Get(0).([]byte)
	return pdf, args.Error(1)
}

func (m *mockProvider) Track(ctx context.Context, awb string) (*Tracking, error) {
	args := m.Called(ctx, awb)
	tracking, _ := args.Get(0).(*Tracking)
	return tracking, args.Error(1)
}

func TestProvision_AllSteps(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateShipment", mock.Anything, mock.Anything).Return(&CreatedShipment{OrderID: 9001, ShipmentID: 7001}, nil)
	provider.On("AssignAWB", mock.Anything, int64(7001)).Return(&AWBAssignment{TrackingCode: "AWB1", CarrierName: "Delhivery"}, nil)
	provider.On("RequestPickup", mock.Anything, int64(7001)).Return(&PickupConfirmation{Confirmation: "ok"}, nil)
	provider.On("GenerateDocuments", mock.Anything, ShipmentRef{OrderID: 9001, ShipmentID: 7001}).
		Return(&DocumentURLs{LabelURL: "label", ManifestURL: "manifest", InvoiceURL: "invoice"}, nil)

	p := NewProvisioner(provider, time.Second, logging.NopLogger{})
	shipment, err := p.Provision(context.Background(), testOrder())

	require.NoError(t, err)
	assert.True(t, shipment.Complete())
	assert.Equal(t, "AWB1", shipment.TrackingCode)
	assert.Equal(t, "ok", shipment.PickupReference)
	assert.Equal(t, "invoice", shipment.InvoiceURL)
	provider.AssertExpectations(t)
}

func TestProvision_LabelStandsInForMissingInvoice(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateShipment", mock.Anything, mock.Anything).Return(&CreatedShipment{OrderID: 1, ShipmentID: 2}, nil)
	provider.On("AssignAWB", mock.Anything, int64(2)).Return(&AWBAssignment{TrackingCode: "AWB1", CarrierName: "X"}, nil)
	provider.On("RequestPickup", mock.Anything, int64(2)).Return(&PickupConfirmation{Confirmation: "ok"}, nil)
	provider.On("GenerateDocuments", mock.Anything, mock.Anything).Return(&DocumentURLs{LabelURL: "label", ManifestURL: "manifest"}, nil)

	shipment, err := NewProvisioner(provider, time.Second, logging.NopLogger{}).Provision(context.Background(), testOrder())

	require.NoError(t, err)
	assert.Equal(t, "label", shipment.InvoiceURL)
}

func TestProvision_StopsAtFailedStepKeepingEarlierResults(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateShipment", mock.Anything, mock.Anything).Return(&CreatedShipment{OrderID: 9001, ShipmentID: 7001}, nil)
	provider.On("AssignAWB", mock.Anything, int64(7001)).Return(nil, stderrors.New("courier unavailable"))

	shipment, err := NewProvisioner(provider, time.Second, logging.NopLogger{}).Provision(context.Background(), testOrder())

	require.Error(t, err)
	assert.Equal(t, StepAssignAWB, shipment.FailedStep)
	assert.Equal(t, int64(7001), shipment.ShipmentID)
	assert.Empty(t, shipment.TrackingCode)
	assert.Contains(t, err.Error(), "assign_awb")
	provider.AssertNotCalled(t, "RequestPickup", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "GenerateDocuments", mock.Anything, mock.Anything)
}

func TestProvision_TimeoutReportsCurrentStep(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateShipment", mock.Anything, mock.Anything).Return(&CreatedShipment{OrderID: 1, ShipmentID: 2}, nil)
	provider.On("AssignAWB", mock.Anything, int64(2)).Return(&AWBAssignment{TrackingCode: "AWB1"}, nil)
	provider.On("RequestPickup", mock.Anything, int64(2)).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	shipment, err := NewProvisioner(provider, 50*time.Millisecond, logging.NopLogger{}).Provision(context.Background(), testOrder())

	require.Error(t, err)
	assert.True(t, utils.IsTimeout(err))
	assert.Equal(t, StepRequestPickup, shipment.FailedStep)
	assert.Equal(t, "AWB1", shipment.TrackingCode)
}
