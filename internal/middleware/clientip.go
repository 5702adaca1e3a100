package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// ClientIPExtractor decides how c.RealIP() finds the client address. With
// no trusted proxies only the socket peer counts and forwarding headers are
// ignored. Otherwise X-Forwarded-For is walked from the right and the first
// hop outside the trusted ranges wins. Entries may be CIDRs or single
// addresses.
func ClientIPExtractor(trusted []string) (echo.IPExtractor, error) {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	n := 0
	for _, raw := range trusted {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ipNet, err := parseTrusted(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
		n++
	}
	if n == 0 {
		return echo.ExtractIPDirect(), nil
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

func parseTrusted(raw string) (*net.IPNet, error) {
	if !strings.Contains(raw, "/") {
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", raw)
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
	}
	_, ipNet, err := net.ParseCIDR(raw)
	if err != nil {
		return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
	}
	return ipNet, nil
}
