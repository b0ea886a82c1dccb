// Package geoip maps client IPs to countries for notification locale selection.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned by a closed or nil resolver.
var ErrUnavailable = errors.New("geoip: resolver unavailable")

// maxCached bounds the per-process answer cache. The cache is dropped
// wholesale when full.
const maxCached = 4096

// Resolver answers country lookups from a MaxMind country database.
type Resolver struct {
	reader *geoip2.Reader

	mu    sync.RWMutex
	cache map[netip.Addr]string
}

// NewResolver opens the database at path. An empty path disables lookups and
// yields a nil resolver.
func NewResolver(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{reader: reader, cache: make(map[netip.Addr]string)}, nil
}

// Lookup returns r.CountryCode as a plain func, or nil when r is nil so
// callers skip IP lookups entirely.
func Lookup(r *Resolver) func(ip string) (string, error) {
	if r == nil {
		return nil
	}
	return r.CountryCode
}

// CountryCode returns the ISO code for ip. Loopback, private and link-local
// addresses have no country and return an empty code.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	addr = addr.Unmap()
	if !routable(addr) {
		return "", nil
	}

	r.mu.RLock()
	code, ok := r.cache[addr]
	r.mu.RUnlock()
	if ok {
		return code, nil
	}

	record, err := r.reader.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	code = record.Country.IsoCode

	r.mu.Lock()
	if len(r.cache) >= maxCached {
		clear(r.cache)
	}
	r.cache[addr] = code
	r.mu.Unlock()
	return code, nil
}

func routable(addr netip.Addr) bool {
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified())
}

// Close releases the database.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
