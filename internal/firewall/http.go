package firewall

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kappakonnect/edgeguard/internal/audit"
	"github.com/kappakonnect/edgeguard/internal/threat"
)

// Handler inspects each request and either answers it with a rejection or
// passes it to next.
type Handler struct {
	fw       *Firewall
	next     http.Handler
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewHandler wraps next. recorder may be nil.
func NewHandler(fw *Firewall, next http.Handler, recorder audit.Recorder, logger *slog.Logger) *Handler {
	if recorder == nil {
		recorder = audit.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{fw: fw, next: next, recorder: recorder, logger: logger}
}

// Middleware returns a chi-compatible middleware around the firewall.
func (f *Firewall) Middleware(recorder audit.Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHandler(f, next, recorder, logger)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Method:   r.Method,
		Path:     r.URL.EscapedPath(),
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
	}
	res := h.fw.Inspect(r.Context(), req)

	if res.Verdict != Allow {
		h.logger.Warn("request blocked",
			"method", req.Method,
			"path", req.Path,
			"query", audit.Truncate(req.RawQuery, audit.MaxQueryLen),
			"client_key", res.ClientKey,
			"threat", describe(res.Threat),
			"user_agent", r.UserAgent(),
		)
		writeRejection(w, res)
		h.record(r, req, res, res.Verdict.Status())
		return
	}

	h.logger.Debug("request allowed",
		"method", req.Method,
		"path", req.Path,
		"client_key", res.ClientKey,
		"bypassed", res.Bypassed,
	)
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	h.next.ServeHTTP(ww, r)
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	h.record(r, req, res, status)
}

func (h *Handler) record(r *http.Request, req Request, res Result, status int) {
	h.recorder.Record(r.Context(), audit.NewEvent(
		req.Method, req.Path, req.RawQuery, res.ClientKey, res.Verdict.String(), res.Threat, status,
	))
}

func writeRejection(w http.ResponseWriter, res Result) {
	switch res.Verdict {
	case RejectNotFound:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Not Found")
	case RejectRateLimited:
		secs := int(res.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		jsonReject(w, "Rate limit exceeded", res.Message, http.StatusTooManyRequests)
	default:
		jsonReject(w, "Forbidden", res.Message, http.StatusForbidden)
	}
}

func jsonReject(w http.ResponseWriter, errMsg, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": errMsg, "message": message})
}

func describe(label string) string {
	c, err := threat.ParseCategory(label)
	if err != nil {
		return label
	}
	return c.HumanName()
}
