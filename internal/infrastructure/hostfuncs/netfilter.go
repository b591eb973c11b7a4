package hostfuncs

import (
	"context"
	"fmt"
	"net"
)

var privateRanges = mustParseCIDRs(
	"0.0.0.0/8",      // "this" network
	"127.0.0.0/8",    // IPv4 loopback
	"10.0.0.0/8",     // RFC1918
	"172.16.0.0/12",  // RFC1918
	"192.168.0.0/16", // RFC1918
	"100.64.0.0/10",  // carrier-grade NAT
	"169.254.0.0/16", // link-local, cloud metadata
	"::1/128",        // IPv6 loopback
	"::/128",         // unspecified
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
	"224.0.0.0/4",    // IPv4 multicast
	"ff00::/8",       // IPv6 multicast
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, block, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, block)
	}
	return out
}

// IsPrivateOrReservedIP checks if an IP is in private or reserved ranges.
func IsPrivateOrReservedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, block := range privateRanges {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver looks up host addresses.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// resolveAndValidate resolves host once and returns an address that is safe
// to dial. Every resolved address must pass the private-range filter unless
// private networks are allowed.
func resolveAndValidate(ctx context.Context, resolver Resolver, host string, allowPrivate bool) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !allowPrivate && IsPrivateOrReservedIP(ip) {
			return "", fmt.Errorf("destination %s is a private/reserved address", host)
		}
		return ip.String(), nil
	}

	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve host: %w", err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("host %s has no addresses", host)
	}
	if !allowPrivate {
		for _, ip := range ips {
			if IsPrivateOrReservedIP(ip) {
				return "", fmt.Errorf("destination %s resolves to private/reserved IP %s", host, ip)
			}
		}
	}
	return ips[0].String(), nil
}
