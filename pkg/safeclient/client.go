// Package safeclient provides an HTTP client with SSRF protection and the
// address checks behind it.
package safeclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrForbiddenIP is returned when an IP address is in a forbidden range.
var ErrForbiddenIP = errors.New("connection to private/internal IP addresses is forbidden")

// forbiddenPrefixes lists ranges that must never be dialed or handed to the
// download tool.
var forbiddenPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // "this" network
	netip.MustParsePrefix("10.0.0.0/8"),      // RFC 1918
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),     // loopback
	netip.MustParsePrefix("169.254.0.0/16"),  // link-local, cloud metadata
	netip.MustParsePrefix("172.16.0.0/12"),   // RFC 1918
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("192.168.0.0/16"),  // RFC 1918
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("224.0.0.0/4"),     // multicast
	netip.MustParsePrefix("255.255.255.255/32"),

	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),      // unique local
	netip.MustParsePrefix("fe80::/10"),     // link-local
	netip.MustParsePrefix("fec0::/10"),     // site-local
	netip.MustParsePrefix("ff00::/8"),      // multicast
	netip.MustParsePrefix("2001:db8::/32"), // documentation
}

// IsForbiddenAddr reports whether addr lies in a private, loopback,
// link-local, multicast or documentation range. IPv4-mapped IPv6 addresses
// are checked as IPv4.
func IsForbiddenAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()

	for _, prefix := range forbiddenPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsForbiddenHost reports whether host is a literal IP in a forbidden range.
// Host names are not resolved and always report false.
func IsForbiddenHost(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return IsForbiddenAddr(addr)
}

// safeDialer validates the resolved address of every connection, which also
// covers DNS rebinding.
func safeDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, c syscall.RawConn) error {
			addrPort, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("failed to parse address %q: %w", address, err)
			}
			if IsForbiddenAddr(addrPort.Addr()) {
				return ErrForbiddenIP
			}
			return nil
		},
	}
}

// NewSafeHTTPClient creates an HTTP client that refuses to connect to
// internal addresses.
func NewSafeHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialer().DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// NewSafeHTTPClientWithTimeout creates an HTTP client with SSRF protection
// and an overall request timeout.
func NewSafeHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	client := NewSafeHTTPClient()
	client.Timeout = timeout
	return client
}
