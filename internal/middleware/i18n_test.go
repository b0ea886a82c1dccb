package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func request(headers ...string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.4:80"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		fallback string
		country  string
		want     string
	}{
		{name: "x-locale wins over country", headers: []string{"X-Locale", "RU"}, country: "US", want: "ru"},
		{name: "accept-language english", headers: []string{"Accept-Language", "en-US,en;q=0.9"}, want: "en"},
		{name: "accept-language russian first", headers: []string{"Accept-Language", "ru-RU,en;q=0.8"}, want: "ru"},
		{name: "accept-language weights", headers: []string{"Accept-Language", "ru;q=0.2,en;q=0.9"}, want: "en"},
		{name: "unsupported language gets english", headers: []string{"Accept-Language", "de-DE"}, country: "RU", want: "en"},
		{name: "wildcard ignored", headers: []string{"Accept-Language", "*"}, country: "KZ", want: "ru"},
		{name: "other country", country: "US", want: "en"},
		{name: "configured fallback", fallback: "en", want: "en"},
		{name: "default", want: "ru"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectLocale(request(tc.headers...), tc.fallback, tc.country))
		})
	}
}

func TestNormalizeLocale(t *testing.T) {
	assert.Equal(t, "ru", normalizeLocale("ru-KZ"))
	assert.Equal(t, "en", normalizeLocale("en"))
	assert.Equal(t, "en", normalizeLocale("fr"))
	assert.Equal(t, DefaultLocale, normalizeLocale(""))
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		lookup  CountryLookup
		want    string
	}{
		{name: "proxy header order", headers: []string{"X-Country-Code", "us", "CF-IPCountry", "ru"}, want: "US"},
		{name: "x-locale region", headers: []string{"X-Locale", "en-AU"}, want: "AU"},
		{name: "accept-language region", headers: []string{"Accept-Language", "ru-BY,ru;q=0.9"}, want: "BY"},
		{name: "language without region is not a country", headers: []string{"Accept-Language", "en"}, want: ""},
		{
			name: "ip lookup",
			lookup: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					return "", errors.New("unexpected ip " + ip)
				}
				return "kz", nil
			},
			want: "KZ",
		},
		{
			name:   "lookup error",
			lookup: func(string) (string, error) { return "", errors.New("boom") },
			want:   "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveCountry(request(tc.headers...), tc.lookup))
		})
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	h := I18N(DefaultLocale, func(string) (string, error) { return "de", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), request())
	assert.Equal(t, "en", locale)
	assert.Equal(t, "DE", country)
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "ru", LocaleFromContext(ctx))
	assert.Equal(t, "en", LocaleFromContext(context.WithValue(ctx, LocaleKey, "en")))
}
