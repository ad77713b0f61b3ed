package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// SSRFConfig controls which destinations read_url (and any other
// network-effect tool) is allowed to reach.
type SSRFConfig struct {
	// VerifiedURLs, when non-empty, is an allowlist of exact URLs (or
	// host prefixes ending in "/") that bypass the private-address check
	// entirely — used for fetching an operator-configured feed the
	// resolver would otherwise reject (e.g. a LAN status page).
	VerifiedURLs []string
	// DNSTimeout bounds the resolver lookup; a DNS server that hangs must
	// not hang the tool call indefinitely. Defaults to 3s.
	DNSTimeout time.Duration
	// Resolver is overridable for tests; defaults to net.DefaultResolver.
	Resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}
}

func (c SSRFConfig) dnsTimeout() time.Duration {
	if c.DNSTimeout > 0 {
		return c.DNSTimeout
	}
	return 3 * time.Second
}

func (c SSRFConfig) resolver() interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
} {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}

func (c SSRFConfig) verified(rawURL string) bool {
	for _, v := range c.VerifiedURLs {
		if v == rawURL {
			return true
		}
		if strings.HasSuffix(v, "/") && strings.HasPrefix(rawURL, v) {
			return true
		}
	}
	return false
}

// checkSSRF validates rawURL is an http(s) URL that does not resolve to a
// loopback, link-local, private, multicast, unspecified, or
// IPv6-mapped-IPv4-private address, unless it matches the verified-URL
// allowlist. It fails closed: a DNS lookup error or timeout is treated as
// unsafe, never as "allow by default".
func checkSSRF(ctx context.Context, rawURL string, cfg SSRFConfig) error {
	if cfg.verified(rawURL) {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("tools: invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("tools: scheme %q is not allowed, only http/https", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("tools: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIPSafe(ip)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, cfg.dnsTimeout())
	defer cancel()
	addrs, err := cfg.resolver().LookupIPAddr(lookupCtx, host)
	if err != nil {
		return fmt.Errorf("tools: DNS lookup for %q failed, refusing fetch: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("tools: DNS lookup for %q returned no addresses", host)
	}
	for _, a := range addrs {
		if err := checkIPSafe(a.IP); err != nil {
			return err
		}
	}
	return nil
}

func checkIPSafe(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("tools: refusing to fetch loopback address %s", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("tools: refusing to fetch link-local address %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("tools: refusing to fetch private address %s", ip)
	case ip.IsMulticast():
		return fmt.Errorf("tools: refusing to fetch multicast address %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("tools: refusing to fetch unspecified address %s", ip)
	}
	return nil
}
