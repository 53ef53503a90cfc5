// Package netguard restricts the admin listener to loopback and private
// network clients.
package netguard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// PrivateCIDRs are the networks trusted by default.
var PrivateCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsPrivate returns true if the IP falls within a private/internal range.
func IsPrivate(ip net.IP) bool {
	return contains(PrivateCIDRs, ip)
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Guard admits clients from the private ranges plus any extra networks.
type Guard struct {
	allowed []*net.IPNet
	logger  *slog.Logger
}

// NewGuard parses extra CIDRs (e.g. a VPN range) on top of PrivateCIDRs.
func NewGuard(extra []string, logger *slog.Logger) (*Guard, error) {
	allowed := append([]*net.IPNet{}, PrivateCIDRs...)
	for _, c := range extra {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parse admin cidr %q: %w", c, err)
		}
		allowed = append(allowed, ipNet)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{allowed: allowed, logger: logger}, nil
}

// Allowed checks the connection's peer address. Forwarding headers are
// ignored; they are client controlled.
func (g *Guard) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return contains(g.allowed, net.ParseIP(host))
}

// Middleware rejects requests from outside the allowed networks with 403.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allowed(r.RemoteAddr) {
			g.logger.Warn("admin request from untrusted address", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
