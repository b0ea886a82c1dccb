package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func limited(h http.Handler, user, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.RemoteAddr = addr
	req = req.WithContext(ContextWithUserID(req.Context(), user))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitKeysByUserAcrossAddresses(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	assert.Equal(t, http.StatusOK, limited(h, "a", "198.51.100.10:1").Code)
	assert.Equal(t, http.StatusOK, limited(h, "a", "198.51.100.11:1").Code)

	rec := limited(h, "a", "198.51.100.12:1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, limited(h, "b", "198.51.100.12:1").Code)
}

func TestRateLimitAnonymousByAddress(t *testing.T) {
	h := RateLimit(1)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	assert.Equal(t, http.StatusOK, limited(h, "", "203.0.113.1:80").Code)
	assert.Equal(t, http.StatusTooManyRequests, limited(h, "", "203.0.113.1:443").Code)
	assert.Equal(t, http.StatusOK, limited(h, "", "[2001:db8::1]:443").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, limited(h, "a", "203.0.113.1:80").Code)
	}
}
