package origin

import (
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

var staticAsset = regexp.MustCompile(`(?i)\.(js|css|png|jpg|jpeg|gif|svg|ico|woff|woff2|ttf|eot|json|xml|txt|webmanifest)$`)

// IsStaticAsset reports whether path names a file the SPA strategy proxies
// as-is rather than answering with the document.
func IsStaticAsset(path string) bool {
	return staticAsset.MatchString(path)
}

// SPA serves a single-page application: static assets are proxied, every
// other route gets the application document.
type SPA struct {
	proxy    *Proxy
	document string
}

func NewSPA(base *url.URL, opts Options) *SPA {
	doc := opts.Document
	if doc == "" {
		doc = DefaultDocument
	}
	return &SPA{proxy: NewProxy(base, opts), document: doc}
}

func (s *SPA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsStaticAsset(r.URL.Path) {
		s.proxy.forward(w, r, StrategySPA)
		return
	}

	start := time.Now()
	resp, err := s.proxy.fetch(r, s.document)
	if err != nil {
		s.proxy.observeResult(StrategySPA, 0, time.Since(start))
		s.proxy.logger.Error("fetch spa document failed", "document", s.document, "err", err)
		jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	s.proxy.observeResult(StrategySPA, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.proxy.logger.Warn("spa document unavailable", "document", s.document, "status", resp.StatusCode)
		notFound(w)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.proxy.logger.Warn("copy spa document", "err", err)
	}
}
