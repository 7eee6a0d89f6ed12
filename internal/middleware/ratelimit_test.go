package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limited(t *testing.T, rps float64, burst int) http.Handler {
	t.Helper()
	return RateLimiter(t.Context(), RateLimitConfig{RequestsPerSecond: rps, Burst: burst})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/audit/ae-1/rollback", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_Burst(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		requests int
		wantOK   int
	}{
		{name: "under burst", burst: 10, requests: 5, wantOK: 5},
		{name: "exactly burst", burst: 3, requests: 3, wantOK: 3},
		{name: "over burst", burst: 2, requests: 5, wantOK: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := limited(t, 0.001, tc.burst)
			ok := 0
			for range tc.requests {
				rec := hit(h, "")
				if rec.Code == http.StatusNoContent {
					ok++
					assert.Equal(t, "", rec.Header().Get("Retry-After"))
					assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
				}
			}
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestRateLimiter_RejectionBody(t *testing.T) {
	h := limited(t, 1, 1)
	require.Equal(t, http.StatusNoContent, hit(h, "").Code)

	rec := hit(h, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)
	assert.True(t, body.Retryable)
}

func TestRateLimiter_KeyedByRemoteHost(t *testing.T) {
	h := limited(t, 1, 1)

	require.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1234").Code)
	// Same host on another port shares the bucket.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.2:1234").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6", remoteAddr: "[::1]:12345", want: "::1"},
		{name: "forwarded header ignored", remoteAddr: "10.0.0.1:1234", xff: "203.0.113.50", want: "10.0.0.1"},
		{name: "no port", remoteAddr: "10.0.0.9", want: "10.0.0.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
