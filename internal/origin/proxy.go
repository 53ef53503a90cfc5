package origin

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Proxy forwards the request verbatim to the origin and relays the answer.
type Proxy struct {
	base    *url.URL
	client  *http.Client
	observe func(string, int, time.Duration)
	logger  *slog.Logger
}

func NewProxy(base *url.URL, opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		base:    base,
		client:  newClient(opts),
		observe: opts.Observe,
		logger:  logger,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, StrategyProxy)
}

// forward relays r to the origin. strategy only labels the observation.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, strategy string) {
	target := p.target(r.URL.EscapedPath(), r.URL.RawQuery)

	var body io.Reader
	if r.ContentLength != 0 && r.Body != nil {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		p.logger.Error("failed to build origin request", "target", target, "err", err)
		jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	req.ContentLength = r.ContentLength
	copyHeaders(req.Header, r.Header)
	setForwarded(req, r)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.observeResult(strategy, 0, time.Since(start))
		p.logger.Error("origin request failed", "method", r.Method, "target", target, "err", err)
		jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	p.observeResult(strategy, resp.StatusCode, time.Since(start))

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn("copy origin response", "target", target, "err", err)
	}
}

// fetch performs a GET for path on the origin, carrying the client's headers.
func (p *Proxy) fetch(r *http.Request, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.target(path, ""), nil)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Del("Content-Length")
	req.Header.Del("Content-Type")
	req.Header.Set("X-Internal-Fetch", "true")
	setForwarded(req, r)
	return p.client.Do(req)
}

// target joins the origin base path with the request path.
func (p *Proxy) target(escapedPath, rawQuery string) string {
	basePath := strings.TrimSuffix(p.base.EscapedPath(), "/")
	if !strings.HasPrefix(escapedPath, "/") {
		escapedPath = "/" + escapedPath
	}
	return p.base.Scheme + "://" + p.base.Host + basePath + escapedPath + query(rawQuery)
}

func query(raw string) string {
	if raw == "" {
		return ""
	}
	return "?" + raw
}

func (p *Proxy) observeResult(strategy string, status int, d time.Duration) {
	if p.observe != nil {
		p.observe(strategy, status, d)
	}
}

func setForwarded(req, in *http.Request) {
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			host = strings.Join(prior, ", ") + ", " + host
		}
		req.Header.Set("X-Forwarded-For", host)
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	if in.Host != "" {
		req.Header.Set("X-Forwarded-Host", in.Host)
	}
}
