// Package middleware provides request validation and client identification
// shared by the HTTP and WebSocket handlers.
package middleware

import (
	"errors"
	"net/url"
	"strings"

	"github.com/emanuelef/yt-dl-relay/pkg/safeclient"
)

// URL validation errors
var (
	ErrEmptyURL         = errors.New("URL cannot be empty")
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrSchemeNotAllowed = errors.New("only http and https URLs are allowed")
	ErrDomainNotAllowed = errors.New("domain not in allowlist")
	ErrUserInfoPresent  = errors.New("URLs with user credentials are not allowed")
	ErrPrivateHost      = errors.New("URLs pointing at private addresses are not allowed")
	ErrOptionLike       = errors.New("URL must not start with a dash")
)

// URLValidator checks download URLs before they are handed to yt-dlp.
type URLValidator struct {
	allowed map[string]bool
}

// NewURLValidator creates a validator. An empty domain list allows any
// public host.
func NewURLValidator(domains []string) *URLValidator {
	v := &URLValidator{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if v.allowed == nil {
			v.allowed = make(map[string]bool)
		}
		v.allowed[strings.TrimPrefix(d, "www.")] = true
	}
	return v
}

// Validate validates a URL against security rules:
// - parses as an absolute http(s) URL
// - carries no userinfo (user:pass@host)
// - is not a literal private/loopback IP
// - matches the domain allowlist, when one is configured
func (v *URLValidator) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return ErrEmptyURL
	}

	// yt-dlp would read a leading dash as an option
	if strings.HasPrefix(rawURL, "-") {
		return ErrOptionLike
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return ErrSchemeNotAllowed
	}

	if parsedURL.User != nil {
		return ErrUserInfoPresent
	}

	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return ErrInvalidURL
	}

	if host == "localhost" || safeclient.IsForbiddenHost(host) {
		return ErrPrivateHost
	}

	if v.allowed != nil && !v.isDomainAllowed(host) {
		return ErrDomainNotAllowed
	}

	return nil
}

// isDomainAllowed checks the host and each of its parent domains.
func (v *URLValidator) isDomainAllowed(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for {
		if v.allowed[host] {
			return true
		}
		idx := strings.Index(host, ".")
		if idx == -1 {
			return false
		}
		host = host[idx+1:]
	}
}
