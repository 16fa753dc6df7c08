package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// blockedCIDRs are private and reserved ranges outbound calls must not reach.
var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked CIDR %q: %v", cidr, err))
		}
		blockedNets = append(blockedNets, ipNet)
	}
}

// IsBlockedIP reports whether ip is private, loopback, link-local or unspecified.
func IsBlockedIP(ip net.IP) bool {
	for _, blocked := range blockedNets {
		if blocked.Contains(ip) {
			return true
		}
	}
	return ip.IsUnspecified()
}

// ValidateURL checks that a user-supplied URL is safe to call: http(s) only
// (https when requireHTTPS), with every resolved address outside blocked ranges.
func ValidateURL(ctx context.Context, rawURL string, requireHTTPS bool) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return fmt.Errorf("url must use https")
		}
	default:
		return fmt.Errorf("url must use http or https")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("url must have a host")
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if IsBlockedIP(ip.IP) {
			return fmt.Errorf("url resolves to blocked address %s", ip.IP)
		}
	}
	return nil
}

// ValidatingDialer resolves at connect time and dials only unblocked addresses,
// so a hostname cannot be rebound to a private IP after validation.
func ValidatingDialer() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", host, err)
		}

		for _, ip := range ips {
			if IsBlockedIP(ip.IP) {
				continue
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
		}
		return nil, fmt.Errorf("all resolved addresses for %q are blocked", host)
	}
}
