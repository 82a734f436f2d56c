package llm

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidBaseURL = errors.New("invalid base url")

type BaseURLOptions struct {
	AllowHTTP bool
	// AllowLocalNetworks permits localhost and loopback, private or
	// link-local addresses, as used by self-hosted endpoints.
	AllowLocalNetworks bool
}

// ValidateBaseURL checks the endpoint an engine is about to talk to. IP
// literals are checked without DNS lookups.
func ValidateBaseURL(rawURL string, opts BaseURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: %v", rawURL, err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrapf(ErrInvalidBaseURL, "%s: plain http is not allowed", rawURL)
		}
	default:
		return errors.Wrapf(ErrInvalidBaseURL, "%s: unsupported scheme %q", rawURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: no host", rawURL)
	}

	if !opts.AllowLocalNetworks &&
		(host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")) {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: local host %q", rawURL, host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !opts.AllowLocalNetworks {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: zoned address %q", rawURL, host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: unusable address %q", rawURL, host)
	}
	if !opts.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Wrapf(ErrInvalidBaseURL, "%s: local network address %q", rawURL, host)
	}
	return nil
}
