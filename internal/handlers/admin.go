package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront-fulfillment/internal/auth"
	"storefront-fulfillment/internal/common/logging"
)

func (h *Handlers) operatorLogger(r *http.Request) logging.Logger {
	logger := h.logger.WithContext(r.Context())
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		logger = logger.WithFields(logging.Field{Key: "operator", Value: claims.Operator})
	}
	return logger
}

// GetOrder godoc
// @Summary Get the order recorded for a payment
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param paymentID path string true "Provider payment id"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/orders/{paymentID} [get]
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Order(r.Context(), mux.Vars(r)["paymentID"])
	if err != nil {
		h.writeError(w, r, err, "Failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "order": order})
}

// ReprocessOrder godoc
// @Summary Queue another fulfillment run for an order
// @Description Shipping, documents and the confirmation email are retried in the background
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param paymentID path string true "Provider payment id"
// @Success 202 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/orders/{paymentID}/reprocess [post]
func (h *Handlers) ReprocessOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Reprocess(r.Context(), mux.Vars(r)["paymentID"])
	if err != nil {
		h.writeError(w, r, err, "Failed to queue reprocessing")
		return
	}

	h.operatorLogger(r).Info("Operator requested reprocessing", logging.Field{Key: "order_id", Value: order.ID})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"message":  "Order queued for reprocessing",
		"order_id": order.ID,
	})
}

// ListEmailLogs godoc
// @Summary List the notification audit trail of an order
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param paymentID path string true "Provider payment id"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/orders/{paymentID}/email-logs [get]
func (h *Handlers) ListEmailLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.orders.EmailLogs(r.Context(), mux.Vars(r)["paymentID"])
	if err != nil {
		h.writeError(w, r, err, "Failed to load email logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "logs": logs})
}
