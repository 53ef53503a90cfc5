package firewall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kappakonnect/edgeguard/internal/audit"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureRecorder) last(t *testing.T) audit.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.events)
	return c.events[len(c.events)-1]
}

func newTestHandler(t *testing.T, cfg Config) (http.Handler, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("origin"))
	})
	return New(cfg).Middleware(rec, quietLogger())(origin), rec
}

func TestSQLInjectionQueryIsForbidden(t *testing.T) {
	h, events := newTestHandler(t, Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=%27%20OR%201%3D1--", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"error":"Forbidden"`)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, MessageMalicious, body["message"])

	ev := events.last(t)
	assert.Equal(t, audit.VerdictRejectForbidden, ev.Verdict)
	assert.Equal(t, "sql_injection", ev.Threat)
	assert.Equal(t, http.StatusForbidden, ev.Status)
	assert.Equal(t, "/search", ev.Path)
}

func TestCleanRequestReachesOrigin(t *testing.T) {
	h, events := newTestHandler(t, Config{Limiter: newLimiter(t, 5)})

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.Header.Set("X-Forwarded-For", "192.0.2.44")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Origin"))
	assert.Equal(t, "origin", w.Body.String())

	ev := events.last(t)
	assert.Equal(t, audit.VerdictAllow, ev.Verdict)
	assert.Equal(t, "none", ev.Threat)
	assert.Equal(t, "192.0.2.44", ev.ClientKey)
	assert.Equal(t, http.StatusAccepted, ev.Status)
}

func TestSensitiveFileIsPlainNotFound(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	for _, target := range []string{"/.env", "/.env?debug=1", "/.env?q=%3Cscript%3E"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Equal(t, "Not Found", w.Body.String(), target)
		assert.Empty(t, w.Header().Get("X-Origin"), target)
	}
}

func TestPathTraversalResponse(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/..%2F..%2Fetc/passwd", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Forbidden", body["error"])
	assert.Equal(t, MessagePathTraversal, body["message"])
}

func TestRateLimitedResponse(t *testing.T) {
	h, events := newTestHandler(t, Config{Limiter: newLimiter(t, 2)})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		r.Header.Set("CF-Connecting-IP", "198.51.100.9")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, r)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", last.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, MessageRateLimited, body["message"])

	ev := events.last(t)
	assert.Equal(t, audit.VerdictRejectRateLimited, ev.Verdict)
	assert.Equal(t, ThreatRateLimit, ev.Threat)
	assert.Equal(t, "198.51.100.9", ev.ClientKey)
}

func TestNilRecorderAndLogger(t *testing.T) {
	h := NewHandler(New(Config{}), http.NotFoundHandler(), nil, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidUTF8QueryIsRecordedClean(t *testing.T) {
	h, events := newTestHandler(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "/page", nil)
	r.URL.RawQuery = "q=\xff\xfe"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusAccepted, w.Code)
	ev := events.last(t)
	assert.True(t, utf8.ValidString(ev.Query), "query %q", ev.Query)
	assert.Equal(t, "q=\uFFFD", ev.Query)
}
