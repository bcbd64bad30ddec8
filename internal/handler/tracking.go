package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// GetTracker handles GET /api/track/{trackingNumber}.
func (h *Handler) GetTracker(w http.ResponseWriter, r *http.Request) {
	v, err := h.orders.GetTracker(r.Context(), chiParam(r, "trackingNumber"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTrackerView(e, v) })
}

// UpdateTracking handles PUT /api/track/{trackingNumber}.
func (h *Handler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	var u tracking.Update
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				u.Status, err = status.Parse(s)
			}
		case "latitude":
			u.Latitude, err = decodeOptionalFloat(d)
		case "longitude":
			u.Longitude, err = decodeOptionalFloat(d)
		case "address":
			u.Address, err = d.Str()
		case "description":
			u.Description, err = d.Str()
		default:
			return &unknownFieldError{Field: key}
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	v, err := h.orders.UpdateTracking(r.Context(), chiParam(r, "trackingNumber"), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTrackerView(e, v) })
}

// ConfirmPayment handles POST /api/orders/{orderID}/payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var sig order.PaymentSignal
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				sig.Status, err = order.ParsePaymentStatus(s)
			}
		case "amount":
			sig.Amount, err = decodeDecimal(d)
		case "reference":
			sig.Reference, err = d.Str()
		default:
			return &unknownFieldError{Field: key}
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.ConfirmPayment(r.Context(), chiParam(r, "orderID"), sig)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
