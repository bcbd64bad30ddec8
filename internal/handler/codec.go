package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks malformed request parameters.
var errBadRequest = errors.New("bad request")

// unknownFieldError is returned for keys a request type does not declare.
type unknownFieldError struct {
	Field string
}

func (e *unknownFieldError) Error() string {
	return "unknown field " + strconv.Quote(e.Field)
}

// decodeError reports a request body that could not be decoded. Domain
// errors raised while decoding stay reachable through Unwrap.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode request: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }

// readObject reads the request body and hands each top-level key to fn.
func readObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &decodeError{err: err}
	}
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		var uf *unknownFieldError
		if errors.As(err, &uf) {
			return &decodeError{err: uf}
		}
		return &decodeError{err: err}
	}
	if d.Next() != jx.Invalid {
		return &decodeError{err: errors.New("trailing data after object")}
	}
	return nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(string(n))
}

// decodeOptionalFloat returns nil for an explicit JSON null.
func decodeOptionalFloat(d *jx.Decoder) (*float64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Float64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				it.ProductID, err = d.Str()
			case "name":
				it.Name, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "unit_price":
				it.UnitPrice, err = decodeDecimal(d)
			case "weight_kg":
				it.WeightKG, err = d.Float64()
			default:
				return &unknownFieldError{Field: "items[]." + string(key)}
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var (
		a        order.Address
		lat, lon *float64
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "line1":
			a.Line1, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "state":
			a.State, err = d.Str()
		case "postal_code":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		case "latitude":
			lat, err = decodeOptionalFloat(d)
		case "longitude":
			lon, err = decodeOptionalFloat(d)
		default:
			return &unknownFieldError{Field: "shipping_address." + string(key)}
		}
		return err
	})
	if err != nil {
		return a, err
	}
	switch {
	case lat != nil && lon != nil:
		a.Coordinates = &shipping.Coordinates{Latitude: *lat, Longitude: *lon}
	case lat != nil || lon != nil:
		return a, errors.New("latitude and longitude must be set together")
	}
	return a, nil
}

// writeJSON encodes the body built by fn with the given status.
func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.RawStr(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCoordinates(e *jx.Encoder, c shipping.Coordinates) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("latitude", func(e *jx.Encoder) { e.Float64(c.Latitude) })
		e.Field("longitude", func(e *jx.Encoder) { e.Float64(c.Longitude) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		if o.CartID != "" {
			e.Field("cart_id", func(e *jx.Encoder) { e.Str(o.CartID) })
		}
		e.Field("tracking_number", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("weight_kg", func(e *jx.Encoder) { e.Float64(it.WeightKG) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("shipping_cost", func(e *jx.Encoder) { money(e, o.ShippingCost) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("tax", func(e *jx.Encoder) { money(e, o.Tax) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		if o.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("shipping_address", func(e *jx.Encoder) { e.Str(o.ShippingAddress.String()) })
		e.Field("distance_km", func(e *jx.Encoder) { e.Float64(o.DistanceKM) })
		e.Field("weight_kg", func(e *jx.Encoder) { e.Float64(o.WeightKG) })
		e.Field("estimated_delivery", func(e *jx.Encoder) { timestamp(e, o.EstimatedDelivery) })
		e.Field("created_at", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
	})
}

func encodeCouponResult(e *jx.Encoder, r *coupon.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(r.Valid) })
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		if r.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(r.Reason) })
		}
		if r.Valid {
			e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(r.DiscountType)) })
			e.Field("discount_value", func(e *jx.Encoder) { money(e, r.DiscountValue) })
		}
		e.Field("discount_amount", func(e *jx.Encoder) { money(e, r.DiscountAmount) })
		e.Field("final_amount", func(e *jx.Encoder) { money(e, r.FinalAmount) })
	})
}

func encodeQuote(e *jx.Encoder, q shipping.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("distance_km", func(e *jx.Encoder) { e.Float64(q.DistanceKM) })
		e.Field("weight_kg", func(e *jx.Encoder) { e.Float64(q.WeightKG) })
		e.Field("cost", func(e *jx.Encoder) { money(e, q.Cost) })
		e.Field("estimated_delivery", func(e *jx.Encoder) { timestamp(e, q.EstimatedDelivery) })
	})
}

func encodeLocation(e *jx.Encoder, l tracking.Location) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("latitude", func(e *jx.Encoder) { e.Float64(l.Latitude) })
		e.Field("longitude", func(e *jx.Encoder) { e.Float64(l.Longitude) })
		e.Field("address", func(e *jx.Encoder) { e.Str(l.Address) })
		e.Field("timestamp", func(e *jx.Encoder) { timestamp(e, l.Timestamp) })
		e.Field("status", func(e *jx.Encoder) { e.Str(l.Status.String()) })
		e.Field("description", func(e *jx.Encoder) { e.Str(l.Description) })
	})
}

func encodeTrackerView(e *jx.Encoder, v *tracking.View) {
	t := v.Tracker
	e.Obj(func(e *jx.Encoder) {
		e.Field("tracking_number", func(e *jx.Encoder) { e.Str(t.TrackingNumber) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(t.OrderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(t.Current.Status.String()) })
		e.Field("current_location", func(e *jx.Encoder) { encodeLocation(e, t.Current) })
		e.Field("history", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range t.History {
					encodeLocation(e, l)
				}
			})
		})
		e.Field("origin", func(e *jx.Encoder) { encodeCoordinates(e, t.Origin) })
		e.Field("destination", func(e *jx.Encoder) { encodeCoordinates(e, t.Destination) })
		e.Field("current_position", func(e *jx.Encoder) { encodeCoordinates(e, v.Position) })
		e.Field("progress_percentage", func(e *jx.Encoder) { e.Int(v.ProgressPercentage) })
		e.Field("total_distance_km", func(e *jx.Encoder) { e.Float64(v.TotalDistanceKM) })
		e.Field("distance_remaining_km", func(e *jx.Encoder) { e.Float64(v.DistanceRemaining) })
		e.Field("estimated_delivery", func(e *jx.Encoder) { timestamp(e, t.EstimatedDelivery) })
	})
}
