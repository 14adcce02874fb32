package invoice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/shipping"
)

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	args := m.Called(ctx, req)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type mockTaxSource struct {
	mock.Mock
}

func (m *mockTaxSource) FetchTaxInvoice(ctx context.Context, id int64) ([]byte, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func testOrder() *models.Order {
	return &models.Order{
		ID:       "ord_1",
		Customer: models.Customer{Name: "Asha"},
		Items:    []models.LineItem{{ProductID: "golden-sandal", Name: "Golden Sandal", Price: 1299, Quantity: 2}},
		Total:    2598,
	}
}

func TestGenerator_BothDocuments(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.MatchedBy(func(req RenderRequest) bool {
		return req.TrackingNumber == "AWB123" && req.OrderName == "Order #ord_1"
	})).Return([]byte("%PDF-invoice"), nil)

	tax := &mockTaxSource{}
	tax.On("FetchTaxInvoice", mock.Anything, int64(77)).Return([]byte("%PDF-tax"), nil)

	gen := NewGenerator(renderer, tax, time.Second, logging.NopLogger{})
	docs := gen.Generate(context.Background(), testOrder(), &shipping.Shipment{OrderID: 77, TrackingCode: "AWB123"})

	assert.True(t, docs.Complete())
	assert.Equal(t, []byte("%PDF-invoice"), docs.Invoice)
	assert.Equal(t, []byte("%PDF-tax"), docs.TaxInvoice)
	assert.NoError(t, docs.InvoiceErr)
	assert.NoError(t, docs.TaxInvoiceErr)
	renderer.AssertExpectations(t)
	tax.AssertExpectations(t)
}

func TestGenerator_SkipsTaxInvoiceWithoutProviderOrder(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.MatchedBy(func(req RenderRequest) bool {
		return req.TrackingNumber == "NA"
	})).Return([]byte("%PDF"), nil)
	tax := &mockTaxSource{}

	gen := NewGenerator(renderer, tax, time.Second, logging.NopLogger{})
	docs := gen.Generate(context.Background(), testOrder(), nil)

	assert.True(t, docs.TaxInvoiceSkipped)
	assert.Nil(t, docs.TaxInvoice)
	assert.NotNil(t, docs.Invoice)
	tax.AssertNotCalled(t, "FetchTaxInvoice", mock.Anything, mock.Anything)
}

func TestGenerator_FailuresDegradeIndependently(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).Return(nil, errors.UpstreamError("invoice-renderer", 500, "boom"))
	tax := &mockTaxSource{}
	tax.On("FetchTaxInvoice", mock.Anything, int64(5)).Return([]byte("%PDF-tax"), nil)

	gen := NewGenerator(renderer, tax, time.Second, logging.NopLogger{})
	docs := gen.Generate(context.Background(), testOrder(), &shipping.Shipment{OrderID: 5})

	assert.Nil(t, docs.Invoice)
	assert.Error(t, docs.InvoiceErr)
	assert.Equal(t, []byte("%PDF-tax"), docs.TaxInvoice)
	assert.False(t, docs.Complete())
}

func TestGenerator_TimeoutYieldsPlaceholder(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	gen := NewGenerator(renderer, nil, 20*time.Millisecond, logging.NopLogger{})
	start := time.Now()
	docs := gen.Generate(context.Background(), testOrder(), &shipping.Shipment{OrderID: 9})

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, utils.IsTimeout(docs.InvoiceErr))
	assert.True(t, docs.TaxInvoiceSkipped)
}

func TestGenerator_EmptyRenderIsAnError(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).Return([]byte{}, nil)

	docs := NewGenerator(renderer, nil, time.Second, logging.NopLogger{}).Generate(context.Background(), testOrder(), nil)
	assert.True(t, errors.IsType(docs.InvoiceErr, errors.ErrTypeValidation))
}

func TestGenerator_NilRenderer(t *testing.T) {
	docs := NewGenerator(nil, nil, time.Second, logging.NopLogger{}).Generate(context.Background(), testOrder(), nil)
	assert.True(t, errors.IsType(docs.InvoiceErr, errors.ErrTypeConfig))
	assert.Nil(t, docs.Invoice)
}

func TestServiceRenderer_Render(t *testing.T) {
	var got RenderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-invoice", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	renderer := NewServiceRenderer(server.URL+"/", time.Second, logging.NopLogger{})
	pdf, err := renderer.Render(context.Background(), NewRenderRequest(testOrder(), "AWB1"))
	require.NoError(t, err)

	assert.Equal(t, []byte("%PDF-1.4"), pdf)
	assert.Equal(t, "Asha", got.Customer.Name)
	assert.Equal(t, "Order #ord_1", got.OrderName)
	assert.Equal(t, "AWB1", got.TrackingNumber)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "golden-sandal", got.Items[0].ProductID)
}

func TestServiceRenderer_Errors(t *testing.T) {
	_, err := NewServiceRenderer("", time.Second, logging.NopLogger{}).Render(context.Background(), RenderRequest{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err = NewServiceRenderer(server.URL, time.Second, logging.NopLogger{}).Render(context.Background(), RenderRequest{})
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
}
