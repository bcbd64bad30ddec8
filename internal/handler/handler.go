// Package handler serves the fulfillment API over chi with jx codecs.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

// OrderService is the subset of *order.Service the HTTP layer calls.
type OrderService interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error)
	ValidateCoupon(ctx context.Context, code string, cartTotal decimal.Decimal) (*coupon.Result, error)
	Quote(dest *shipping.Coordinates, weightKG float64) shipping.Quote
	GetTracker(ctx context.Context, trackingNumber string) (*tracking.View, error)
	UpdateTracking(ctx context.Context, trackingNumber string, u tracking.Update) (*tracking.View, error)
	ConfirmPayment(ctx context.Context, orderID string, sig order.PaymentSignal) (*order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the fulfillment API.
type Handler struct {
	orders OrderService
	// carts is nil when no cart store is configured.
	carts order.CartStore
}

// NewHandler constructs a Handler. carts may be nil.
func NewHandler(orders OrderService, carts order.CartStore) *Handler {
	return &Handler{orders: orders, carts: carts}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/checkout", h.Checkout)
	r.Post("/coupons/validate", h.ValidateCoupon)
	r.Post("/shipping/quote", h.Quote)
	r.Get("/track/{trackingNumber}", h.GetTracker)
	r.Put("/track/{trackingNumber}", h.UpdateTracking)
	r.Post("/orders/{orderID}/payment", h.ConfirmPayment)
	r.Put("/carts/{cartID}", h.SaveCart)
}

// Routes returns a router serving the API under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Route("/api", h.Mount)
	return r
}

// fail maps domain errors to HTTP responses. Unmapped errors are logged and
// reported as 500 without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		itemErr *order.InvalidItemError
		decErr  *decodeError
		code    int
	)
	switch {
	case errors.As(err, &itemErr),
		errors.Is(err, order.ErrInvalidAddress),
		errors.Is(err, order.ErrInvalidPayment),
		errors.Is(err, tracking.ErrInvalidUpdate),
		errors.Is(err, status.ErrUnknown):
		code = http.StatusUnprocessableEntity
	case errors.As(err, &decErr),
		errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrEmptyCart):
		code = http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrCartNotFound),
		errors.Is(err, tracking.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, order.ErrPaymentAmountMismatch),
		errors.Is(err, tracking.ErrIllegalTransition),
		errors.Is(err, tracking.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, order.ErrTrackingNumberExhausted):
		code = http.StatusServiceUnavailable
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, code, err.Error())
}
