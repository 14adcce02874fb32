package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/shipping"
)

// TrackShipment godoc
// @Summary Look up shipment tracking by AWB code
// @Tags tracking
// @Produce json
// @Param awb path string true "Air waybill code"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/track/{awb} [get]
func (h *Handlers) TrackShipment(w http.ResponseWriter, r *http.Request) {
	awb := mux.Vars(r)["awb"]
	if len(awb) < shipping.MinAWBLength {
		writeMessage(w, http.StatusBadRequest, "Invalid AWB code")
		return
	}

	tracking, err := h.tracking.Track(r.Context(), awb)
	if err != nil {
		switch errors.GetType(err) {
		case errors.ErrTypeNotFound:
			writeMessage(w, http.StatusNotFound, "Tracking not found")
		case errors.ErrTypeValidation:
			writeMessage(w, http.StatusBadRequest, "Invalid AWB code")
		default:
			h.writeError(w, r, err, "Server error while tracking")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"tracking": tracking,
	})
}
