package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kappakonnect/edgeguard/internal/audit"
)

const (
	defaultVerdictLimit = 50
	maxVerdictLimit     = 500
	// persistedWindow is how far back /api/stats aggregates the verdict log.
	persistedWindow = 24 * time.Hour
)

// RateLimitInfo describes the active rate limit for the stats endpoint.
type RateLimitInfo struct {
	Enabled       bool   `json:"enabled"`
	WindowSeconds int    `json:"window_seconds"`
	MaxRequests   int    `json:"max_requests"`
	FailClosed    bool   `json:"fail_closed"`
	Store         string `json:"store"`
}

type statsResponse struct {
	audit.Snapshot
	RateLimit RateLimitInfo `json:"rate_limit"`
	// Persisted covers the verdict log over persistedWindow when a database
	// is configured.
	Persisted *audit.Snapshot `json:"persisted,omitempty"`
}

type DashboardHandler struct {
	stats     *audit.Stats
	history   audit.History
	counter   audit.VerdictCounter
	rateLimit RateLimitInfo
	logger    *slog.Logger
	now       func() time.Time
}

// NewDashboardHandler creates the dashboard handler. counter may be nil.
func NewDashboardHandler(stats *audit.Stats, history audit.History, counter audit.VerdictCounter, rl RateLimitInfo, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		stats:     stats,
		history:   history,
		counter:   counter,
		rateLimit: rl,
		logger:    logger,
		now:       time.Now,
	}
}

// GetStats handles GET /api/stats
func (dh *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if dh.stats == nil {
		jsonError(w, "stats not enabled", http.StatusNotFound)
		return
	}
	resp := statsResponse{Snapshot: dh.stats.Snapshot(), RateLimit: dh.rateLimit}
	if dh.counter != nil {
		snap, err := audit.StoredSnapshot(r.Context(), dh.counter, dh.now().Add(-persistedWindow))
		if err != nil {
			dh.logger.Warn("failed to aggregate verdict log", "err", err)
		} else {
			resp.Persisted = &snap
		}
	}
	writeJSON(w, resp)
}

// GetVerdicts handles GET /api/verdicts?limit=N
func (dh *DashboardHandler) GetVerdicts(w http.ResponseWriter, r *http.Request) {
	if dh.history == nil {
		jsonError(w, "verdict history not enabled", http.StatusNotFound)
		return
	}

	limit := defaultVerdictLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxVerdictLimit)
	}

	events, err := dh.history.Recent(r.Context(), limit)
	if err != nil {
		dh.logger.Error("failed to fetch verdicts", "err", err)
		jsonError(w, "failed to fetch verdicts", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, events)
}
