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

// hit sends a GET through h from remoteAddr with optional extra headers
// given as name/value pairs.
func hit(h http.Handler, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	type step struct {
		addr    string
		headers []string
		code    int
		left    string
	}
	tests := []struct {
		name  string
		cfg   RateLimitConfig
		steps []step
	}{
		{
			name: "remaining counts down",
			cfg:  RateLimitConfig{Max: 3, Window: time.Minute},
			steps: []step{
				{addr: "192.168.1.1:1", code: http.StatusOK, left: "2"},
				{addr: "192.168.1.1:2", code: http.StatusOK, left: "1"},
				{addr: "192.168.1.1:3", code: http.StatusOK, left: "0"},
				{addr: "192.168.1.1:4", code: http.StatusTooManyRequests, left: "0"},
			},
		},
		{
			name: "clients are independent",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			steps: []step{
				{addr: "10.0.0.1:1", code: http.StatusOK, left: "0"},
				{addr: "10.0.0.2:1", code: http.StatusOK, left: "0"},
				{addr: "10.0.0.1:2", code: http.StatusTooManyRequests, left: "0"},
			},
		},
		{
			name: "forwarded client wins over connection address",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			steps: []step{
				{addr: "192.168.1.1:1", headers: []string{"X-Forwarded-For", "203.0.113.50, 70.41.3.18"}, code: http.StatusOK, left: "0"},
				{addr: "192.168.1.2:1", headers: []string{"X-Forwarded-For", "203.0.113.50"}, code: http.StatusTooManyRequests, left: "0"},
				{addr: "192.168.1.2:1", headers: []string{"X-Real-IP", "198.51.100.7"}, code: http.StatusOK, left: "0"},
			},
		},
		{
			name: "custom key",
			cfg: RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-Customer")
			}},
			steps: []step{
				{addr: "10.0.0.1:1", headers: []string{"X-Customer", "a"}, code: http.StatusOK, left: "0"},
				{addr: "10.0.0.2:1", headers: []string{"X-Customer", "a"}, code: http.StatusTooManyRequests, left: "0"},
				{addr: "10.0.0.1:1", headers: []string{"X-Customer", "b"}, code: http.StatusOK, left: "0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(tt.cfg)(okHandler())
			for i, s := range tt.steps {
				w := hit(h, s.addr, s.headers...)
				assert.Equal(t, s.code, w.Code, "step %d", i)
				assert.Equal(t, s.left, w.Header().Get("X-RateLimit-Remaining"), "step %d", i)
			}
		})
	}
}

func TestRateLimit_RejectionBody(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())
	hit(h, "10.0.0.1:1")
	hit(h, "10.0.0.1:1")

	w := hit(h, "10.0.0.1:1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Now()

	for range 2 {
		_, _, ok := rl.allow("k", now)
		require.True(t, ok)
	}

	_, retry, ok := rl.allow("k", now)
	require.False(t, ok)
	assert.InDelta(t, 500*time.Millisecond, retry, float64(10*time.Millisecond))

	_, _, ok = rl.allow("k", now.Add(500*time.Millisecond))
	assert.True(t, ok, "one token refills after Window/Max")
}

func TestRateLimit_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	rl.allow("idle", now)
	rl.allow("busy", now.Add(50*time.Second))

	rl.cleanup(now.Add(70 * time.Second))

	assert.NotContains(t, rl.clients, "idle")
	assert.Contains(t, rl.clients, "busy")
}
