package signature

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

const (
	keySecret     = "key_secret_test"
	webhookSecret = "webhook_secret_test"
)

func newTestVerifier() *Verifier {
	return NewVerifier(keySecret, webhookSecret, logging.NopLogger{})
}

func TestVerifyPayment(t *testing.T) {
	v := newTestVerifier()
	sig := ComputeSignature([]byte(keySecret), []byte("order_456|pay_123"))

	require.NoError(t, v.VerifyPayment("order_456", "pay_123", sig))
	assert.Error(t, v.VerifyPayment("order_456", "pay_123", strings.ToUpper(sig)), "signature must match exactly")

	t.Run("wrong secret", func(t *testing.T) {
		other := ComputeSignature([]byte(webhookSecret), []byte("order_456|pay_123"))
		assert.Error(t, v.VerifyPayment("order_456", "pay_123", other))
	})

	t.Run("empty signature", func(t *testing.T) {
		err := v.VerifyPayment("order_456", "pay_123", "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	})

	t.Run("missing reference", func(t *testing.T) {
		assert.Error(t, v.VerifyPayment("", "pay_123", sig))
	})
}

// Every single-character mutation of signature or either reference is rejected.
func TestVerifyPaymentTamper(t *testing.T) {
	v := newTestVerifier()
	orderRef, paymentRef := "order_456", "pay_123"
	sig := ComputeSignature([]byte(keySecret), []byte(orderRef+"|"+paymentRef))

	mutate := func(s string, i int) string {
		b := []byte(s)
		if b[i] == 'x' {
			b[i] = 'y'
		} else {
			b[i] = 'x'
		}
		return string(b)
	}

	for i := range sig {
		assert.Error(t, v.VerifyPayment(orderRef, paymentRef, mutate(sig, i)), "signature index %d", i)
	}
	for i := range orderRef {
		assert.Error(t, v.VerifyPayment(mutate(orderRef, i), paymentRef, sig), "order ref index %d", i)
	}
	for i := range paymentRef {
		assert.Error(t, v.VerifyPayment(orderRef, mutate(paymentRef, i), sig), "payment ref index %d", i)
	}
}

func TestVerifyWebhook(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	sig := ComputeSignature([]byte(webhookSecret), body)

	require.NoError(t, v.VerifyWebhook(body, sig))

	reformatted := []byte(`{"event": "payment.captured","payload":{}}`)
	err := v.VerifyWebhook(reformatted, sig)
	require.Error(t, err)

	var verr VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "webhook", verr.Source)
	assert.Equal(t, "signature mismatch", verr.Message)
}

func TestVerifierWithoutSecretRejects(t *testing.T) {
	v := NewVerifier("", "", logging.NopLogger{})
	sig := ComputeSignature([]byte(""), []byte("a|b"))
	assert.Error(t, v.VerifyPayment("a", "b", sig))
}

func TestPreserveRequestBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader("hello"))
	body, err := PreserveRequestBody(r, 1024)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	again := make([]byte, 5)
	n, _ := r.Body.Read(again)
	assert.Equal(t, "hello", string(again[:n]))

	big := httptest.NewRequest("POST", "/webhook", strings.NewReader(strings.Repeat("a", 20)))
	_, err = PreserveRequestBody(big, 10)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
