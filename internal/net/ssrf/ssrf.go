// Package ssrf guards the web_fetch tool against Server-Side Request
// Forgery: hostnames that name local or internal infrastructure, and
// addresses in private, loopback, or link-local ranges, are rejected
// before any request is issued.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// BlockedError is returned when a hostname or address is rejected by a
// protection rule.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string { return e.Message }

// blockedHostnames are always rejected regardless of what they resolve
// to. metadata.google.internal is the GCE metadata service, the classic
// SSRF credential-theft target.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// blockedSuffixes mark hostnames that by convention name internal or
// mDNS-local resources.
var blockedSuffixes = []string{".localhost", ".local", ".internal"}

// normalize lowercases, trims, strips a trailing FQDN dot, and unwraps
// IPv6 brackets.
func normalize(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

// IsBlockedHostname reports whether hostname is rejected by the name
// rules alone (explicit blocklist or internal suffix).
func IsBlockedHostname(hostname string) bool {
	h := normalize(hostname)
	if h == "" {
		return false
	}
	if blockedHostnames[h] {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// IsPrivateAddress reports whether s parses as an IP address in a
// loopback, private, link-local, CGNAT, or unspecified range.
// IPv4-mapped IPv6 addresses are unmapped first so ::ffff:10.0.0.1 is
// caught as 10.0.0.1.
func IsPrivateAddress(s string) bool {
	addr, err := netip.ParseAddr(normalize(s))
	if err != nil {
		return false
	}
	return isPrivateAddr(addr)
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}

	// Carrier-grade NAT (100.64.0.0/10) is private in practice but not
	// covered by netip's IsPrivate.
	cgnat := netip.MustParsePrefix("100.64.0.0/10")
	if addr.Is4() && cgnat.Contains(addr) {
		return true
	}

	// IPv6 unique-local (fc00::/7) beyond what IsPrivate covers for
	// mapped forms, and the deprecated site-local fec0::/10.
	if addr.Is6() {
		for _, p := range []string{"fc00::/7", "fe80::/10", "fec0::/10"} {
			if netip.MustParsePrefix(p).Contains(addr) {
				return true
			}
		}
	}
	return false
}

// lookupNetIP resolves a hostname to addresses; a seam so tests can
// inject fixed resolutions.
var lookupNetIP = func(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// ValidatePublicHostname rejects hostnames that match the name rules,
// are themselves addresses in non-public ranges, or resolve to any such
// address. Resolution is the load-bearing check: a DNS-rebinding name
// like attacker.example pointing at 169.254.169.254 passes every string
// rule and is only caught by validating what it resolves to.
func ValidatePublicHostname(ctx context.Context, hostname string) error {
	h := normalize(hostname)
	if h == "" {
		return errors.New("ssrf: empty hostname")
	}
	if IsBlockedHostname(h) {
		return &BlockedError{Message: fmt.Sprintf("blocked hostname: %s", hostname)}
	}

	// A literal IP needs no resolution.
	if addr, err := netip.ParseAddr(h); err == nil {
		if isPrivateAddr(addr) {
			return &BlockedError{Message: fmt.Sprintf("blocked address: %s", hostname)}
		}
		return nil
	}

	addrs, err := lookupNetIP(ctx, h)
	if err != nil {
		return fmt.Errorf("ssrf: resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("ssrf: resolve %s: no addresses", hostname)
	}
	for _, addr := range addrs {
		if isPrivateAddr(addr) {
			return &BlockedError{Message: fmt.Sprintf("blocked: %s resolves to private/internal address %s", hostname, addr)}
		}
	}
	return nil
}
