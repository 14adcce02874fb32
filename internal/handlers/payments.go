package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/validation"
	"storefront-fulfillment/internal/fulfillment"
	"storefront-fulfillment/internal/models"
	"storefront-fulfillment/internal/payment"
	"storefront-fulfillment/internal/signature"
)

const (
	MessageOrderConfirmed   = "Order confirmed! Shipping details and invoice will be emailed shortly."
	MessageAlreadyProcessed = "Order already processed. Your confirmation email is on its way or has been sent."

	messageInvalidSignature    = "Invalid signature"
	messageVerificationFailed  = "Payment verification failed"
	messageInvalidCheckout     = "Missing or invalid data for order creation"
	messageCheckoutFailed      = "Failed to create Razorpay order"
	messageWebhookInvalid      = "Invalid payload"
	messageWebhookIgnored      = "Ignored event"
	messageWebhookReplay       = "Order already recorded"
	messageWebhookAdmitted     = "Order processed via webhook"
	messageWebhookSaveFailed   = "Order save failed"
	messageWebhookReadFailed   = "Failed to read request body"
	messageVerifyInvalidFormat = "Invalid request body"
)

// FormData is the checkout form the storefront posts
type FormData struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

func (f FormData) customer() models.Customer {
	return models.Customer{Name: f.Name, Email: f.Email, Phone: f.Phone}
}

func (f FormData) address() models.Address {
	return models.Address{
		Street:     f.Street,
		City:       f.City,
		State:      f.State,
		PostalCode: f.Pincode,
		Country:    f.Country,
	}
}

// VerifyRequest is relayed by the browser after the payment widget closes
type VerifyRequest struct {
	OrderID   string            `json:"razorpay_order_id"`
	PaymentID string            `json:"razorpay_payment_id"`
	Signature string            `json:"razorpay_signature"`
	CartItems []models.LineItem `json:"cartItems"`
	FormData  FormData          `json:"formData"`
	Total     int64             `json:"total"`
}

// OrderSummary is the order view returned to the checkout page
type OrderSummary struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	Phone             string            `json:"phone"`
	Address           string            `json:"address"`
	Items             []models.LineItem `json:"items"`
	Total             int64             `json:"total"`
	Status            string            `json:"status"`
	PaymentID         string            `json:"payment_id"`
	CreatedAt         time.Time         `json:"createdAt"`
	EstimatedDelivery time.Time         `json:"estimated_delivery"`
	ProcessingMessage string            `json:"processing_message"`
}

func newOrderSummary(order *models.Order, message string) OrderSummary {
	return OrderSummary{
		ID:                order.ID,
		Name:              order.Customer.Name,
		Email:             order.Customer.Email,
		Phone:             order.Customer.Phone,
		Address:           order.Address.String(),
		Items:             order.Items,
		Total:             order.Total,
		Status:            string(order.Status),
		PaymentID:         order.PaymentID,
		CreatedAt:         order.CreatedAt,
		EstimatedDelivery: order.EstimatedDelivery,
		ProcessingMessage: message,
	}
}

// VerifyPayment godoc
// @Summary Confirm a checkout payment
// @Description Verifies the payment signature relayed by the browser and admits the order once
// @Tags payments
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Payment confirmation"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/payments/verify [post]
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, messageVerifyInvalidFormat)
		return
	}

	admission, err := h.orders.ConfirmDirect(r.Context(), fulfillment.DirectConfirmation{
		OrderRef:   req.OrderID,
		PaymentRef: req.PaymentID,
		Signature:  req.Signature,
		Customer:   req.FormData.customer(),
		Address:    req.FormData.address(),
		Items:      req.CartItems,
		Total:      req.Total,
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeAuth) {
			writeMessage(w, http.StatusBadRequest, messageInvalidSignature)
			return
		}
		h.writeError(w, r, err, messageVerificationFailed)
		return
	}

	message := MessageOrderConfirmed
	if admission.Replay {
		message = MessageAlreadyProcessed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   newOrderSummary(admission.Order, message),
	})
}

// PaymentWebhook godoc
// @Summary Receive a payment provider webhook
// @Description Authenticates the raw body against X-Razorpay-Signature and admits captured payments
// @Tags payments
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/payments/webhook [post]
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := signature.PreserveRequestBody(r, h.maxBodyBytes)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			writeMessage(w, http.StatusBadRequest, messageWebhookInvalid)
			return
		}
		writeMessage(w, http.StatusBadRequest, messageWebhookReadFailed)
		return
	}

	result, err := h.orders.ConfirmWebhook(r.Context(), body, r.Header.Get(signature.WebhookHeader))
	if err != nil {
		if errors.IsType(err, errors.ErrTypeAuth) {
			writeMessage(w, http.StatusBadRequest, messageInvalidSignature)
			return
		}
		h.writeError(w, r, err, messageWebhookSaveFailed)
		return
	}

	switch result.Outcome {
	case fulfillment.WebhookIgnored:
		writeMessage(w, http.StatusOK, messageWebhookIgnored)
	case fulfillment.WebhookReplay:
		writeMessage(w, http.StatusOK, messageWebhookReplay)
	default:
		h.logger.WithContext(r.Context()).Info("Webhook admitted order",
			logging.Field{Key: "order_id", Value: result.Order.ID},
			logging.Field{Key: "payment_id", Value: result.Order.PaymentID},
		)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"message":  messageWebhookAdmitted,
			"order_id": result.Order.ID,
		})
	}
}

// CheckoutRequest is posted before the payment widget opens
type CheckoutRequest struct {
	Amount    int64             `json:"amount" validate:"gt=0"`
	FormData  FormData          `json:"formData"`
	CartItems []models.LineItem `json:"cartItems" validate:"required,min=1"`
}

func (c CheckoutRequest) complete() bool {
	f := c.FormData
	for _, v := range []string{f.Name, f.Email, f.Phone, f.Street, f.City, f.State, f.Pincode, f.Country} {
		if v == "" {
			return false
		}
	}
	return validation.ValidateStruct(c) == nil
}

// CreateOrder godoc
// @Summary Open a provider order for checkout
// @Tags payments
// @Accept json
// @Produce json
// @Param request body CheckoutRequest true "Checkout data"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/payments/order [post]
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil || !req.complete() {
		writeMessage(w, http.StatusBadRequest, messageInvalidCheckout)
		return
	}

	order, err := h.checkout.CreateOrder(r.Context(), payment.CheckoutRequest{
		Amount:   req.Amount,
		Customer: req.FormData.customer(),
		Address:  req.FormData.address(),
		Items:    req.CartItems,
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			writeMessage(w, http.StatusBadRequest, messageInvalidCheckout)
			return
		}
		h.logger.WithContext(r.Context()).Error("Provider order creation failed", err)
		writeMessage(w, http.StatusInternalServerError, messageCheckoutFailed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   order,
	})
}
