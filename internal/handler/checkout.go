package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

// Checkout handles POST /api/checkout. The optional "coupon" query
// parameter is an order-level percent discount, overridden by percent_off
// in the body.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if v := r.URL.Query().Get("coupon"); v != "" {
		pct, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, r, errors.Wrapf(errBadRequest, "coupon query parameter %q", v))
			return
		}
		req.PercentOff = pct
	}

	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "cart_id":
			req.CartID, err = d.Str()
		case "items":
			req.Items, err = decodeItems(d)
		case "shipping_address":
			req.ShippingAddress, err = decodeAddress(d)
		case "coupon_code":
			req.CouponCode, err = d.Str()
		case "percent_off":
			req.PercentOff, err = d.Int()
		default:
			return &unknownFieldError{Field: key}
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			if res.Coupon != nil {
				e.Field("coupon", func(e *jx.Encoder) { encodeCouponResult(e, res.Coupon) })
			}
			e.Field("shipping", func(e *jx.Encoder) { encodeQuote(e, res.Quote) })
			e.Field("tracker_pending", func(e *jx.Encoder) { e.Bool(res.TrackerPending) })
		})
	})
}

// SaveCart handles PUT /api/carts/{cartID}.
func (h *Handler) SaveCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeError(w, http.StatusNotImplemented, "cart store not configured")
		return
	}

	c := order.Cart{ID: chiParam(r, "cartID")}
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return &unknownFieldError{Field: key}
		}
		var err error
		c.Items, err = decodeItems(d)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(c.Items) == 0 {
		h.fail(w, r, order.ErrEmptyCart)
		return
	}

	if err := h.carts.Save(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
