package payment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/models"
)

func capturedEvent(t *testing.T, notes map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":       "pay_123",
					"order_id": "order_456",
					"method":   "upi",
					"amount":   259800,
					"notes":    notes,
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func validNotes() map[string]interface{} {
	return map[string]interface{}{
		"name":    "Asha",
		"email":   "asha@example.com",
		"phone":   "9876543210",
		"address": "Flat 4, 12 MG Road, Bengaluru, Karnataka, 560001, India",
		"items":   `[{"name":"Golden Sandal","price":1299,"quantity":2,"image":"/img.png"}]`,
		"total":   "2598",
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent(capturedEvent(t, validNotes()))
	require.NoError(t, err)
	assert.True(t, event.Captured())
	assert.Equal(t, "pay_123", event.Payment().ID)
	assert.Contains(t, string(event.Payment().Raw()), `"order_456"`)

	_, err = ParseEvent([]byte("{not json"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestParseEvent_OtherEvents(t *testing.T) {
	event, err := ParseEvent([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","notes":[]}}}}`))
	require.NoError(t, err)
	assert.False(t, event.Captured())
	assert.Empty(t, event.Payment().Notes)
}

func TestToOrderPayload(t *testing.T) {
	event, err := ParseEvent(capturedEvent(t, validNotes()))
	require.NoError(t, err)

	payload, err := event.Payment().ToOrderPayload()
	require.NoError(t, err)

	assert.Equal(t, "Asha", payload.Customer.Name)
	assert.Equal(t, models.Address{
		Street: "Flat 4, 12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "India",
	}, payload.Address)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, int64(1299), payload.Items[0].Price)
	assert.Equal(t, int64(2598), payload.Total)
	assert.Equal(t, "upi", payload.PaymentMethod)
	assert.Equal(t, "order_456", payload.ProviderOrderID)
	assert.Equal(t, models.SourceWebhook, payload.Source)
	assert.NotEmpty(t, payload.PaymentDetails)
}

func TestToOrderPayload_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(n map[string]interface{})
		message string
	}{
		{"missing email", func(n map[string]interface{}) { delete(n, "email") }, "Missing required data"},
		{"missing items", func(n map[string]interface{}) { delete(n, "items") }, "Missing required data"},
		{"items not json", func(n map[string]interface{}) { n["items"] = "Golden Sandal x2" }, "Invalid items data"},
		{"items object", func(n map[string]interface{}) { n["items"] = `{"name":"x"}` }, "Invalid items data"},
		{"items broken array", func(n map[string]interface{}) { n["items"] = `[{"name":` }, "Invalid items data"},
		{"total not number", func(n map[string]interface{}) { n["total"] = "abc" }, "Invalid total"},
		{"total zero", func(n map[string]interface{}) { n["total"] = "0" }, "Invalid total"},
		{"total negative", func(n map[string]interface{}) { n["total"] = "-5" }, "Invalid total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := validNotes()
			tt.mutate(notes)
			event, err := ParseEvent(capturedEvent(t, notes))
			require.NoError(t, err)

			_, err = event.Payment().ToOrderPayload()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestNotesRoundTrip(t *testing.T) {
	customer := models.Customer{Name: "Asha", Email: "asha@example.com", Phone: "9876543210"}
	address := models.Address{Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "India"}
	items := []models.LineItem{{ProductID: "golden-sandal", Name: "Golden Sandal", Price: 1299, Quantity: 2}}

	notes, err := BuildNotes(customer, address, items, 2598)
	require.NoError(t, err)

	entity := PaymentEntity{ID: "pay_1", Method: "card", Notes: notes}
	payload, err := entity.ToOrderPayload()
	require.NoError(t, err)

	assert.Equal(t, customer, payload.Customer)
	assert.Equal(t, address, payload.Address)
	assert.Equal(t, items, payload.Items)
	assert.Equal(t, int64(2598), payload.Total)
}

func TestNotes_NumericValues(t *testing.T) {
	var n Notes
	require.NoError(t, json.Unmarshal([]byte(`{"total":2598,"email":"a@b.co"}`), &n))
	assert.Equal(t, "2598", n["total"])
	assert.Equal(t, "a@b.co", n["email"])
}

func TestParseLeadingInt(t *testing.T) {
	v, err := parseLeadingInt(" 2598.00 ")
	require.NoError(t, err)
	assert.Equal(t, int64(2598), v)

	_, err = parseLeadingInt("rs 10")
	assert.Error(t, err)
}

func TestToOrderPayload_MethodDefaults(t *testing.T) {
	notes, err := BuildNotes(models.Customer{Email: "a@b.co"}, models.Address{}, []models.LineItem{{Name: "x", Price: 1, Quantity: 1}}, 1)
	require.NoError(t, err)

	payload, err := (&PaymentEntity{ID: "pay_1", Notes: notes}).ToOrderPayload()
	require.NoError(t, err)
	assert.Equal(t, MethodUnknown, payload.PaymentMethod)
}
