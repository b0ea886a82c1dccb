package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// DefaultLocale is used when nothing in the request hints at a language.
const DefaultLocale = "ru"

// Supported notification locales, in matcher preference order.
var localeMatcher = language.NewMatcher([]language.Tag{language.Russian, language.English})

// Countries whose users get Russian notifications.
var russianCountries = map[string]struct{}{
	"RU": {}, "BY": {}, "KZ": {}, "KG": {}, "AM": {}, "UZ": {}, "TJ": {},
}

// Headers set by CDNs and load balancers that already carry a country code.
var countryHeaders = []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the request locale and, when known, the caller's country.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			ctx := context.WithValue(r.Context(), LocaleKey, detectLocale(r, defaultLocale, country))
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// detectLocale prefers explicit language headers, then the caller's country.
func detectLocale(r *http.Request, fallback, country string) string {
	for _, header := range []string{"X-Locale", "Accept-Language"} {
		if tags := parseTags(r.Header.Get(header)); len(tags) > 0 {
			return matchLocale(tags)
		}
	}
	if country != "" {
		if _, ok := russianCountries[country]; ok {
			return "ru"
		}
		return "en"
	}
	if fallback != "" {
		return normalizeLocale(fallback)
	}
	return DefaultLocale
}

func parseTags(header string) []language.Tag {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return nil
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	return tags
}

// matchLocale maps a preference list onto ru or en. Anything that is not a
// confident Russian match is served in English.
func matchLocale(tags []language.Tag) string {
	tag, _, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return "en"
	}
	if base, _ := tag.Base(); base.String() == "ru" {
		return "ru"
	}
	return "en"
}

// normalizeLocale maps a single locale string such as a token claim.
func normalizeLocale(locale string) string {
	tags := parseTags(locale)
	if len(tags) == 0 {
		return DefaultLocale
	}
	return matchLocale(tags)
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return DefaultLocale
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry returns an upper-case ISO country code from proxy headers,
// an explicit language region or the IP lookup, in that order.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	for _, key := range countryHeaders {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	for _, header := range []string{"X-Locale", "Accept-Language"} {
		for _, tag := range parseTags(r.Header.Get(header)) {
			if region, conf := tag.Region(); conf == language.Exact {
				return region.String()
			}
		}
	}
	if lookup == nil {
		return ""
	}
	host := remoteHost(r)
	if host == "" {
		return ""
	}
	country, err := lookup(host)
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(country))
}
