package origin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	strategy string
	status   int
}

type observer struct {
	mu   sync.Mutex
	seen []observation
}

func (o *observer) observe(strategy string, status int, _ time.Duration) {
	o.mu.Lock()
	o.seen = append(o.seen, observation{strategy, status})
	o.mu.Unlock()
}

func testOptions(o *observer) Options {
	opts := Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if o != nil {
		opts.Observe = o.observe
	}
	return opts
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestProxyForwardsRequest(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "1")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	}))
	defer upstream.Close()

	obs := &observer{}
	p := NewProxy(mustParse(t, upstream.URL+"/base/"), testOptions(obs))

	r := httptest.NewRequest(http.MethodPost, "/api/items?x=1&y=two", strings.NewReader("payload"))
	r.Header.Set("X-Custom", "keep")
	r.Header.Set("Connection", "X-Drop")
	r.Header.Set("X-Drop", "drop")
	r.Header.Set("Keep-Alive", "timeout=5")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, r)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/base/api/items", got.URL.Path)
	assert.Equal(t, "x=1&y=two", got.URL.RawQuery)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "keep", got.Header.Get("X-Custom"))
	assert.Empty(t, got.Header.Get("X-Drop"))
	assert.Empty(t, got.Header.Get("Keep-Alive"))
	assert.Equal(t, "192.0.2.1", got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "http", got.Header.Get("X-Forwarded-Proto"))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Upstream"))
	assert.Empty(t, w.Header().Get("Connection"))
	assert.Equal(t, []observation{{StrategyProxy, http.StatusCreated}}, obs.seen)
}

func TestProxyPreservesEscapedPath(t *testing.T) {
	var rawPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
	}))
	defer upstream.Close()

	p := NewProxy(mustParse(t, upstream.URL), testOptions(nil))
	p.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files/a%2Fb", nil))
	assert.Equal(t, "/files/a%2Fb", rawPath)
}

func TestProxyDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	w := httptest.NewRecorder()
	NewProxy(mustParse(t, upstream.URL), testOptions(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/old", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/elsewhere", w.Header().Get("Location"))
}

func assertInternalError(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "Internal Server Error"}, body)
}

func TestProxyUnreachableOrigin(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	base := mustParse(t, upstream.URL)
	upstream.Close()

	obs := &observer{}
	w := httptest.NewRecorder()
	NewProxy(base, testOptions(obs)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assertInternalError(t, w)
	assert.Equal(t, []observation{{StrategyProxy, 0}}, obs.seen)
}

func TestProxyTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	opts := testOptions(nil)
	opts.Timeout = 50 * time.Millisecond
	w := httptest.NewRecorder()
	NewProxy(mustParse(t, upstream.URL), opts).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assertInternalError(t, w)
}

func TestIsStaticAsset(t *testing.T) {
	for _, p := range []string{"/app.js", "/styles/main.CSS", "/logo.svg", "/manifest.webmanifest", "/data.json"} {
		assert.True(t, IsStaticAsset(p), p)
	}
	for _, p := range []string{"/", "/dashboard", "/app.js/extra", "/report.pdf"} {
		assert.False(t, IsStaticAsset(p), p)
	}
}

func spaOrigin(t *testing.T, documentStatus int) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/index.html":
			assert.Equal(t, "true", r.Header.Get("X-Internal-Fetch"))
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(documentStatus)
			io.WriteString(w, "<html>app</html>")
		case "/app.js":
			w.Header().Set("Content-Type", "application/javascript")
			io.WriteString(w, "console.log(1)")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestSPAServesDocumentForRoutes(t *testing.T) {
	srv, paths := spaOrigin(t, http.StatusOK)
	obs := &observer{}
	spa := NewSPA(mustParse(t, srv.URL), testOptions(obs))

	w := httptest.NewRecorder()
	spa.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>app</html>", w.Body.String())
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"/index.html"}, *paths)
	assert.Equal(t, []observation{{StrategySPA, http.StatusOK}}, obs.seen)
}

func TestSPAProxiesStaticAssets(t *testing.T) {
	srv, paths := spaOrigin(t, http.StatusOK)
	spa := NewSPA(mustParse(t, srv.URL), testOptions(nil))

	w := httptest.NewRecorder()
	spa.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app.js", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())
	assert.Equal(t, []string{"/app.js"}, *paths, "static assets never fetch the document")
}

func TestSPADocumentMissing(t *testing.T) {
	srv, _ := spaOrigin(t, http.StatusServiceUnavailable)
	w := httptest.NewRecorder()
	NewSPA(mustParse(t, srv.URL), testOptions(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", w.Body.String())
}

func TestSPAUnreachableOrigin(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := mustParse(t, srv.URL)
	srv.Close()

	w := httptest.NewRecorder()
	NewSPA(base, testOptions(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertInternalError(t, w)
}

func TestSPACustomDocument(t *testing.T) {
	var fetched string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = r.URL.Path
		io.WriteString(w, "shell")
	}))
	defer srv.Close()

	opts := testOptions(nil)
	opts.Document = "/app/shell.html"
	w := httptest.NewRecorder()
	NewSPA(mustParse(t, srv.URL), opts).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deep/link", nil))
	assert.Equal(t, "shell", w.Body.String())
	assert.Equal(t, "/app/shell.html", fetched)
}

func TestNewStrategies(t *testing.T) {
	base := mustParse(t, "http://origin.internal:8080")

	h, err := New(StrategyProxy, base, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Proxy{}, h)

	h, err = New(StrategySPA, base, Options{})
	require.NoError(t, err)
	assert.IsType(t, &SPA{}, h)

	_, err = New("mirror", base, Options{})
	assert.Error(t, err)

	_, err = New(StrategyProxy, mustParse(t, "/relative"), Options{})
	assert.Error(t, err)
}
