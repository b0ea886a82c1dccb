package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/status"
)

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", &domain.ValidationError{Fields: map[string]string{"units": "must be no less than 1"}}, http.StatusBadRequest, "validation_failed"},
		{"insufficient", fmt.Errorf("orchestrator: %w", &domain.InsufficientTokensError{Required: 30, Available: 5}), http.StatusPaymentRequired, "insufficient_tokens"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"unknown user", domain.ErrUserNotFound, http.StatusNotFound, "not_found"},
		{"pricing", domain.ErrPricingNotConfigured, http.StatusInternalServerError, "pricing_not_configured"},
		{"compensation", &domain.CompensationError{Refunded: 12, Cause: domain.ErrUserNotFound}, http.StatusInternalServerError, "job_not_created"},
		{"not async", domain.ErrNotAsync, http.StatusBadRequest, "not_async"},
		{"no results", fmt.Errorf("wrap: %w", status.ErrNoResults), http.StatusConflict, "no_results"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	app := NewApp(nil, nil, nil, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

			assert.Equal(t, tc.code, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Error)
		})
	}
}

func TestWriteErrorDetails(t *testing.T) {
	app := NewApp(nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	app.writeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), &domain.InsufficientTokensError{Required: 30, Available: 5})
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 30, body["required"])
	assert.EqualValues(t, 5, body["available"])

	rec = httptest.NewRecorder()
	app.writeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), &domain.ValidationError{Fields: map[string]string{"payload.product_name": "cannot be blank"}})
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"payload.product_name": "cannot be blank"}, body["fields"])
}
