package storage

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

var (
	// ErrBlockedAddress is returned when a download would connect to a
	// loopback, private, link-local or otherwise non-public address.
	ErrBlockedAddress = errors.New("storage: download target is not a public address")
	// ErrTooLarge is returned when a download exceeds the size cap.
	ErrTooLarge = errors.New("storage: download exceeds size limit")
)

// PublicClient returns a client that only connects to public unicast
// addresses. The check runs on the resolved address of every dial, redirects
// included.
func PublicClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second, Control: refuseNonPublic}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func refuseNonPublic(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !publicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ap.Addr())
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsGlobalUnicast() && !addr.IsPrivate() && !sharedSpace.Contains(addr)
}

// sharedSpace is the carrier-grade NAT range, routable only inside a provider.
var sharedSpace = netip.MustParsePrefix("100.64.0.0/10")
