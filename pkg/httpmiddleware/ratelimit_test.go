package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// hit sends one request through h; setup customizes it.
func hit(h http.Handler, setup func(r *http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/track/TRKAAAAAAAAAA", nil)
	if setup != nil {
		setup(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func from(addr string) func(r *http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestRateLimit_Budget(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for _, want := range []string{"2", "1", "0"} {
		w := hit(h, from("192.168.1.1:12345"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.Empty(t, w.Header().Get("Retry-After"))
	}

	w := hit(h, from("192.168.1.1:12345"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "20", w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)
}

func TestRateLimit_Keys(t *testing.T) {
	forwarded := func(ip, remote string) func(r *http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = remote
			r.Header.Set("X-Forwarded-For", ip+", 70.41.3.18")
		}
	}
	header := func(v string) func(r *http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Client-ID", v) }
	}

	for _, tt := range []struct {
		name    string
		keyFunc func(*http.Request) string
		first   func(r *http.Request)
		same    func(r *http.Request)
		other   func(r *http.Request)
	}{
		{
			name:  "RemoteAddrIgnoresPort",
			first: from("10.0.0.1:1234"),
			same:  from("10.0.0.1:5678"),
			other: from("10.0.0.2:1234"),
		},
		{
			name:  "ForwardedFor",
			first: forwarded("203.0.113.50", "192.168.1.1:4444"),
			same:  forwarded("203.0.113.50", "192.168.1.2:5555"),
			other: forwarded("203.0.113.51", "192.168.1.1:4444"),
		},
		{
			name:    "CustomKey",
			keyFunc: func(r *http.Request) string { return r.Header.Get("X-Client-ID") },
			first:   header("courier-a"),
			same:    header("courier-a"),
			other:   header("courier-b"),
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())

			assert.Equal(t, http.StatusOK, hit(h, tt.first).Code)
			assert.Equal(t, http.StatusOK, hit(h, tt.other).Code, "independent budget")
			assert.Equal(t, http.StatusTooManyRequests, hit(h, tt.same).Code)
		})
	}
}

func TestRateLimit_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Now()

	_, _, ok := rl.allow("k", now)
	require.True(t, ok)
	_, _, ok = rl.allow("k", now)
	require.True(t, ok)
	_, wait, ok := rl.allow("k", now)
	require.False(t, ok)
	assert.InDelta(t, float64(500*time.Millisecond), float64(wait), float64(10*time.Millisecond))

	_, _, ok = rl.allow("k", now.Add(wait))
	assert.True(t, ok, "one token refills after Window/Max")
}

func TestRateLimit_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()
	rl.allow("idle", now)
	rl.allow("busy", now.Add(90*time.Second))

	rl.cleanup(now.Add(2 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "idle")
	assert.Contains(t, rl.clients, "busy")
}
