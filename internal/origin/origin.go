// Package origin forwards allowed requests to the backing application.
package origin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Strategy names.
const (
	StrategyProxy = "proxy"
	StrategySPA   = "spa"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultDocument = "/index.html"
)

// Options configures a forwarder.
type Options struct {
	// Timeout bounds one origin round trip. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Document is the file served for SPA routes. Defaults to DefaultDocument.
	Document string
	// Observe, when set, is called after every origin round trip with the
	// upstream status (0 on failure).
	Observe func(strategy string, status int, d time.Duration)
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// New returns the forwarder for strategy.
func New(strategy string, base *url.URL, opts Options) (http.Handler, error) {
	if base == nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin url must be absolute")
	}
	switch strategy {
	case StrategyProxy, "":
		return NewProxy(base, opts), nil
	case StrategySPA:
		return NewSPA(base, opts), nil
	default:
		return nil, fmt.Errorf("unknown forwarding strategy %q", strategy)
	}
}

func newClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		// Redirects are the client's business.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// hopHeaders apply to a single connection and are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies src into dst without hop-by-hop headers, including the
// ones src names in its Connection header.
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	for key, values := range src {
		if skip[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}
