package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testUser   = "0b8f7a52-3c1d-4e6f-9a27-5d4c3b2a1f90"
)

func TestSignAndVerifyToken(t *testing.T) {
	token, err := SignToken(testSecret, testUser, "en", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, testUser, claims.Subject)
	assert.Equal(t, "en", claims.Locale)

	_, err = VerifyToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpiredAndAnonymous(t *testing.T) {
	expired, err := SignToken(testSecret, testUser, "", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anon, err := SignToken(testSecret, "", "", time.Hour)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, anon)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsNonUUIDSubject(t *testing.T) {
	token, err := SignToken(testSecret, "user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	called := false
	h := AuthJWT(testSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthJWT(t *testing.T) {
	var gotUser, gotLocale string
	h := AuthJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := SignToken(testSecret, testUser, "en-GB", time.Hour)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testUser, gotUser)
	assert.Equal(t, "en", gotLocale)
}
