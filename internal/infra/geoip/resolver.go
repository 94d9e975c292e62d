// Package geoip resolves client addresses to ISO country codes for locale
// negotiation and audit records.
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

// ErrUnavailable is returned by a nil or closed resolver.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// maxCached bounds the per-process answer cache; it is dropped wholesale
// when full.
const maxCached = 4096

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Resolver answers country lookups from a MaxMind country database. Private,
// loopback and link-local addresses resolve to "" without a lookup.
type Resolver struct {
	reader countryReader

	mu     sync.Mutex
	recent map[netip.Addr]string
}

// Open loads the database at path. An empty path yields a nil resolver.
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return newResolver(reader), nil
}

func newResolver(reader countryReader) *Resolver {
	return &Resolver{reader: reader, recent: make(map[netip.Addr]string)}
}

// Country returns the ISO code for ip, or "" when the database has none.
func (r *Resolver) Country(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return "", nil
	}

	r.mu.Lock()
	code, ok := r.recent[addr]
	r.mu.Unlock()
	if ok {
		return code, nil
	}

	record, err := r.reader.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return "", fmt.Errorf("geoip: lookup %s: %w", addr, err)
	}
	if record != nil {
		code = record.Country.IsoCode
	}

	r.mu.Lock()
	if len(r.recent) >= maxCached {
		r.recent = make(map[netip.Addr]string)
	}
	r.recent[addr] = code
	r.mu.Unlock()
	return code, nil
}

// Lookup returns r.Country as a plain function, nil for a nil resolver so
// callers can skip IP lookups entirely.
func (r *Resolver) Lookup() func(ip string) (string, error) {
	if r == nil {
		return nil
	}
	return r.Country
}

// Close releases the database.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
