package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/models"
)

// EventPaymentCaptured is the only webhook event that admits an order
const EventPaymentCaptured = "payment.captured"

// Event is a webhook delivery
type Event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity is the payment embedded in a webhook event
type PaymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Amount  int64  `json:"amount"`
	Notes   Notes  `json:"notes"`

	raw json.RawMessage
}

func (p *PaymentEntity) UnmarshalJSON(data []byte) error {
	type plain PaymentEntity
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = PaymentEntity(decoded)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw is the entity exactly as delivered
func (p *PaymentEntity) Raw() json.RawMessage {
	return p.raw
}

// ParseEvent decodes a webhook body
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.ValidationError("Invalid payload").WithCause(err)
	}
	return &event, nil
}

// Captured reports whether the event confirms a captured payment
func (e *Event) Captured() bool {
	return e.Event == EventPaymentCaptured
}

// Payment returns the embedded payment entity
func (e *Event) Payment() *PaymentEntity {
	return &e.Payload.Payment.Entity
}

// Notes are the provider order notes: flat string key/values. The provider
// sends an empty JSON array when an order has none, and numbers are kept as
// their literal text.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || (len(trimmed) > 0 && trimmed[0] == '[') {
		*n = Notes{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = strings.TrimSpace(string(v))
	}
	*n = out
	return nil
}

// BuildNotes serialises checkout data into notes; ToOrderPayload reverses it
func BuildNotes(customer models.Customer, address models.Address, items []models.LineItem, total int64) (Notes, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, errors.InternalError("failed to encode items", err)
	}
	return Notes{
		"name":    customer.Name,
		"email":   customer.Email,
		"phone":   customer.Phone,
		"address": address.String(),
		"items":   string(encoded),
		"total":   strconv.FormatInt(total, 10),
	}, nil
}

// ToOrderPayload rebuilds an admission payload from webhook notes. Field-level
// completeness is left to admission; this only rejects notes that cannot be
// decoded at all.
func (p *PaymentEntity) ToOrderPayload() (*models.OrderPayload, error) {
	notes := p.Notes
	if notes["email"] == "" || notes["items"] == "" || notes["total"] == "" {
		return nil, errors.ValidationError("Missing required data")
	}

	var items []models.LineItem
	trimmed := strings.TrimSpace(notes["items"])
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.ValidationError("Invalid items data")
	}
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, errors.ValidationError("Invalid items data").WithCause(err)
	}

	total, err := parseLeadingInt(notes["total"])
	if err != nil || total <= 0 {
		return nil, errors.ValidationError("Invalid total")
	}

	address := parseAddress(notes)
	method := p.Method
	if method == "" {
		method = MethodUnknown
	}

	return &models.OrderPayload{
		Customer: models.Customer{
			Name:  strings.TrimSpace(notes["name"]),
			Email: strings.TrimSpace(notes["email"]),
			Phone: strings.TrimSpace(notes["phone"]),
		},
		Address:         address,
		Items:           items,
		Total:           total,
		PaymentMethod:   method,
		PaymentDetails:  p.Raw(),
		ProviderOrderID: p.OrderID,
		Source:          models.SourceWebhook,
	}, nil
}

// parseAddress prefers discrete note keys and otherwise splits the joined
// "street, city, state, pincode, country" form from the right, so commas
// inside the street survive.
func parseAddress(notes Notes) models.Address {
	if notes["city"] != "" || notes["pincode"] != "" {
		return models.Address{
			Street:     strings.TrimSpace(notes["street"]),
			City:       strings.TrimSpace(notes["city"]),
			State:      strings.TrimSpace(notes["state"]),
			PostalCode: strings.TrimSpace(notes["pincode"]),
			Country:    strings.TrimSpace(notes["country"]),
		}
	}

	parts := strings.Split(notes["address"], ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 5 {
		return models.Address{Street: strings.TrimSpace(notes["address"])}
	}

	n := len(parts)
	return models.Address{
		Street:     strings.Join(parts[:n-4], ", "),
		City:       parts[n-4],
		State:      parts[n-3],
		PostalCode: parts[n-2],
		Country:    parts[n-1],
	}
}

// parseLeadingInt reads the integer prefix of s, so "2598.00" is 2598
func parseLeadingInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("no integer in %q", s)
	}
	return strconv.ParseInt(s[:end], 10, 64)
}
