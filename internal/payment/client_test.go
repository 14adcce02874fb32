package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/models"
)

func TestFetchPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		if r.URL.Path != "/payments/pay_123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pay_123","order_id":"order_456","method":"upi","status":"captured","amount":259800,"vpa":"asha@upi"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, KeyID: "rzp_key", KeySecret: "rzp_secret"}, logging.NopLogger{})

	p, err := c.FetchPayment(context.Background(), "pay_123")
	require.NoError(t, err)
	assert.Equal(t, "upi", p.Method)
	assert.Equal(t, int64(259800), p.Amount)
	assert.Contains(t, string(p.Raw), "asha@upi")

	_, err = c.FetchPayment(context.Background(), "pay_missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
}

func TestCreateOrder(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"order_456","amount":259800,"currency":"INR","receipt":"rcpt_1","status":"created"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, KeyID: "k", KeySecret: "s"}, logging.NopLogger{})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	order, err := c.CreateOrder(context.Background(), CheckoutRequest{
		Amount:   2598,
		Customer: models.Customer{Name: "Asha", Email: "asha@example.com", Phone: "9876543210"},
		Address:  models.Address{Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "India"},
		Items:    []models.LineItem{{Name: "Golden Sandal", Price: 1299, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_456", order.ID)

	assert.Equal(t, float64(259800), body["amount"])
	assert.Equal(t, "INR", body["currency"])
	assert.Equal(t, "rcpt_1700000000000", body["receipt"])
	notes := body["notes"].(map[string]interface{})
	assert.Equal(t, "12 MG Road, Bengaluru, Karnataka, 560001, India", notes["address"])
	assert.Equal(t, "2598", notes["total"])
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, logging.NopLogger{})
	_, err := c.CreateOrder(context.Background(), CheckoutRequest{Amount: 0})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
