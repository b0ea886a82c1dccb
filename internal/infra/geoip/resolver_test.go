package geoip

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPathDisablesLookups(t *testing.T) {
	r, err := NewResolver(" ")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, Lookup(r))
}

func TestMissingDatabase(t *testing.T) {
	_, err := NewResolver("/nonexistent/GeoLite2-Country.mmdb")
	require.Error(t, err)
}

func TestNilResolverIsUnavailable(t *testing.T) {
	var r *Resolver
	_, err := r.CountryCode("203.0.113.1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, r.Close())
}

func TestRoutable(t *testing.T) {
	for ip, want := range map[string]bool{
		"127.0.0.1":       false,
		"10.1.2.3":        false,
		"192.168.0.10":    false,
		"fe80::1":         false,
		"::":              false,
		"203.0.113.1":     true,
		"2001:4860::8888": true,
	} {
		assert.Equal(t, want, routable(netip.MustParseAddr(ip)), ip)
	}
}
