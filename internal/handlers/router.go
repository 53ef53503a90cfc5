package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kappakonnect/edgeguard/internal/audit"
	"github.com/kappakonnect/edgeguard/internal/metrics"
	"github.com/kappakonnect/edgeguard/internal/sse"
	"github.com/kappakonnect/edgeguard/internal/ws"
)

// Pinger checks a dependency the edge needs, such as the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the admin API's collaborators. Nil fields disable their routes.
type Deps struct {
	Stats     *audit.Stats
	History   audit.History
	Hub       *sse.Hub
	WS        *ws.Manager
	Metrics   *metrics.Metrics
	DB        Pinger
	Counts    audit.VerdictCounter
	RateLimit RateLimitInfo
	// Guard wraps every route, typically netguard.Guard.Middleware.
	Guard  func(http.Handler) http.Handler
	Logger *slog.Logger
}

// NewRouter builds the admin API.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if d.Guard != nil {
		r.Use(d.Guard)
	}

	health := NewHealthHandler(d.DB, d.Logger)
	r.Get("/healthz", health.Healthz)
	grpcPath, grpcHandler := grpchealth.NewHandler(health)
	r.Handle(grpcPath+"*", grpcHandler)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.WS != nil {
		r.Get("/ws", d.WS.HandleWS)
	}

	dash := NewDashboardHandler(d.Stats, d.History, d.Counts, d.RateLimit, d.Logger)
	stream := NewStreamHandler(d.Hub, d.Stats, d.History, d.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/stats", dash.GetStats)
		api.Get("/verdicts", dash.GetVerdicts)
		if d.Hub != nil {
			api.Get("/stream/events", stream.HandleSSE)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
