package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
)

// ValidateCoupon handles POST /api/coupons/validate. An unusable coupon is a
// 200 response with valid=false.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code  string
		total decimal.Decimal
	)
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "cart_total":
			total, err = decodeDecimal(d)
		default:
			return &unknownFieldError{Field: key}
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if total.IsNegative() {
		h.fail(w, r, errors.Wrap(errBadRequest, "cart_total must not be negative"))
		return
	}

	res, err := h.orders.ValidateCoupon(r.Context(), code, total)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCouponResult(e, res) })
}

// Quote handles POST /api/shipping/quote. Without coordinates the
// configured default destination is used.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var (
		lat, lon *float64
		weight   float64
	)
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "latitude":
			lat, err = decodeOptionalFloat(d)
		case "longitude":
			lon, err = decodeOptionalFloat(d)
		case "weight_kg":
			weight, err = d.Float64()
		default:
			return &unknownFieldError{Field: key}
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var dest *shipping.Coordinates
	switch {
	case lat != nil && lon != nil:
		dest = &shipping.Coordinates{Latitude: *lat, Longitude: *lon}
		if !dest.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "coordinates out of range")
			return
		}
	case lat != nil || lon != nil:
		h.fail(w, r, errors.Wrap(errBadRequest, "latitude and longitude must be set together"))
		return
	}
	if weight < 0 {
		writeError(w, http.StatusUnprocessableEntity, "weight_kg must not be negative")
		return
	}

	q := h.orders.Quote(dest, weight)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}
