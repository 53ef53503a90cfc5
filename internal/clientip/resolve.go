// Package clientip derives the rate-limit key for a request from its
// forwarding headers. The values are caller controlled and can be spoofed;
// the key is a best-effort bucket, not an identity.
package clientip

import (
	"net/http"
	"strings"
)

// Unknown is the key used when no forwarding header is present.
const Unknown = "unknown"

// ResolveKey returns the first present of: the first X-Forwarded-For entry,
// X-Real-IP, CF-Connecting-IP. Otherwise Unknown.
func ResolveKey(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := h.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := h.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return Unknown
}
