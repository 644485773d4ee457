package device

import (
	"net/netip"
	"strings"
)

// NormalizeIP strips IPv6 zones and the IPv4-mapped prefix, so
// "::ffff:10.0.0.1" becomes "10.0.0.1". Unparseable input is returned trimmed.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.WithZone("").Unmap().String()
}

// IsPrivateIP reports whether the address must not be sent to a geo-IP
// provider: empty or unknown values, loopback, RFC1918, IPv6 unique-local,
// link-local, unspecified, and the IPv4-mapped forms of these.
func IsPrivateIP(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "unknown") {
		return true
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return true
	}
	addr = addr.WithZone("").Unmap()

	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
