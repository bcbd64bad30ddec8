//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("kart"),
		tcpostgres.WithUsername("kart"),
		tcpostgres.WithPassword("kart"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

type client struct {
	t    *testing.T
	base string
}

func (c client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()

	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.base+path, r)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		require.NoError(c.t, dec.Decode(&out))
	}
	return resp.StatusCode, out
}

func TestServer_Fulfillment(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.DatabaseURL = startPostgres(t)
	cfg.Repair.Enabled = false
	cfg.RateLimit = RateLimitConfig{Max: 1000, Window: time.Minute}
	cfg.Discount = DiscountConfig{BreakerFailures: 5}
	cfg.Checkout.ExpectedOrders = 1000
	cfg.Warehouse.Address = "Central Warehouse, Bengaluru"
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st, err := OpenStorage(ctx, cfg.Storage)
	require.NoError(t, err)
	minPurchase := decimal.NewFromInt(500)
	limit := 1
	require.NoError(t, st.Coupons.Upsert(ctx, &coupon.Coupon{
		Code:          "SAVE10",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinPurchase:   &minPurchase,
		UsageLimit:    &limit,
		IsActive:      true,
	}))
	require.NoError(t, st.Close())

	s, err := newServer(ctx, zaptest.NewLogger(t), cfg, metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	require.NoError(t, err)
	t.Cleanup(s.close)
	s.health.SetReady(true)

	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	c := client{t: t, base: srv.URL}

	code, _ := c.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, code)

	checkout := map[string]any{
		"items": []map[string]any{
			{"product_id": "p1", "name": "Kettle", "quantity": 2, "unit_price": "300", "weight_kg": 1.5},
		},
		"shipping_address": map[string]any{
			"line1": "1 Marina Beach Rd", "city": "Chennai", "country": "IN",
			"latitude": 13.0827, "longitude": 80.2707,
		},
		"coupon_code": "save10",
	}

	code, body := c.do(http.MethodPost, "/api/checkout", checkout)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, false, body["tracker_pending"])

	cp := body["coupon"].(map[string]any)
	assert.Equal(t, true, cp["valid"])
	assert.Equal(t, json.Number("60.00"), cp["discount_amount"])

	o := body["order"].(map[string]any)
	assert.Equal(t, json.Number("600.00"), o["subtotal"])
	assert.Equal(t, json.Number("60.00"), o["discount"])
	assert.Equal(t, json.Number("108.00"), o["tax"])
	assert.Equal(t, "SAVE10", o["coupon_code"])
	assert.Equal(t, "Pending", o["status"])
	tn := o["tracking_number"].(string)
	orderID := o["id"].(string)

	// The single usage slot is gone.
	code, body = c.do(http.MethodPost, "/api/checkout", checkout)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, false, body["coupon"].(map[string]any)["valid"])
	assert.NotContains(t, body["order"].(map[string]any), "coupon_code")

	code, body = c.do(http.MethodGet, "/api/track/"+tn, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, orderID, body["order_id"])
	assert.Equal(t, "Pending", body["status"])
	assert.Equal(t, json.Number("0"), body["progress_percentage"])

	code, body = c.do(http.MethodPut, "/api/track/"+tn, map[string]any{
		"status": "shipped", "latitude": 12.9716, "longitude": 77.5946, "address": "Bengaluru hub",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Shipped", body["status"])
	assert.Len(t, body["history"], 1)

	code, _ = c.do(http.MethodPut, "/api/track/"+tn, map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = c.do(http.MethodGet, "/api/track/TRKMISSING000", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = c.do(http.MethodPost, "/api/orders/"+orderID+"/payment", map[string]any{
		"status": "paid", "amount": "1",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, body = c.do(http.MethodPost, "/api/orders/"+orderID+"/payment", map[string]any{
		"status": "paid", "amount": o["total"], "reference": "pay_123",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "paid", body["payment_status"])
	assert.Equal(t, "Shipped", body["status"])
}
