// Package signature authenticates payment confirmations with HMAC-SHA256.
//
// Two inputs are accepted: the identifiers a client relays after checkout,
// signed as "{order_ref}|{payment_ref}" with the API key secret, and the raw
// body of a provider webhook, signed with the webhook secret and delivered in
// the X-Razorpay-Signature header.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

// WebhookHeader carries the webhook body signature
const WebhookHeader = "X-Razorpay-Signature"

const (
	sourcePayment = "payment confirmation"
	sourceWebhook = "webhook"
)

// Verifier checks confirmation signatures. There is no disabled mode.
type Verifier struct {
	keySecret     []byte
	webhookSecret []byte
	logger        logging.Logger
}

func NewVerifier(keySecret, webhookSecret string, logger logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Verifier{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
		logger:        logger.WithFields(logging.Field{Key: "component", Value: "signature"}),
	}
}

// VerifyPayment checks a client-relayed confirmation
func (v *Verifier) VerifyPayment(orderRef, paymentRef, signature string) error {
	if orderRef == "" || paymentRef == "" {
		return v.fail(NewVerificationError(sourcePayment, "missing order or payment reference"))
	}
	return v.verify(sourcePayment, v.keySecret, []byte(orderRef+"|"+paymentRef), signature)
}

// VerifyWebhook checks a webhook against the exact bytes received
func (v *Verifier) VerifyWebhook(body []byte, signature string) error {
	return v.verify(sourceWebhook, v.webhookSecret, body, signature)
}

func (v *Verifier) verify(source string, secret, data []byte, signature string) error {
	if len(secret) == 0 {
		return v.fail(NewVerificationError(source, "no secret configured"))
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return v.fail(NewVerificationError(source, "missing signature"))
	}

	expected := ComputeSignature(secret, data)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return v.fail(NewVerificationError(source, "signature mismatch"))
	}
	return nil
}

func (v *Verifier) fail(err VerificationError) error {
	v.logger.Warn("Signature verification failed",
		logging.Field{Key: "source", Value: err.Source},
		logging.Field{Key: "reason", Value: err.Message},
	)
	return err
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of data
func ComputeSignature(secret, data []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PreserveRequestBody reads at most limit bytes of the body and puts an
// equivalent reader back so later handlers can read it again.
func PreserveRequestBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errors.ValidationError("request body too large")
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
