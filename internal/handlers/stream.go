package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kappakonnect/edgeguard/internal/audit"
	"github.com/kappakonnect/edgeguard/internal/sse"
)

const streamHydrateCount = 20

var keepaliveInterval = 30 * time.Second

// StreamHandler serves SSE streams of verdict events.
type StreamHandler struct {
	hub     *sse.Hub
	stats   *audit.Stats
	history audit.History
	logger  *slog.Logger
}

func NewStreamHandler(hub *sse.Hub, stats *audit.Stats, history audit.History, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, stats: stats, history: history, logger: logger}
}

// HandleSSE handles GET /api/stream/events?topic=all|blocked
// It sends the current stats and recent verdicts, then streams live events
// with periodic keepalives.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	topic := r.URL.Query().Get("topic")
	switch topic {
	case "":
		topic = sse.TopicAll
	case sse.TopicAll, sse.TopicBlocked:
	default:
		jsonError(w, "invalid topic", http.StatusBadRequest)
		return
	}

	// Subscribe before hydrating so nothing published in between is lost.
	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if sh.stats != nil {
		data, _ := json.Marshal(sh.stats.Snapshot())
		fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data)
	}
	if sh.history != nil {
		recent, err := sh.history.Recent(r.Context(), streamHydrateCount)
		if err != nil {
			sh.logger.Warn("sse hydrate failed", "err", err)
		}
		for i := len(recent) - 1; i >= 0; i-- {
			if topic == sse.TopicBlocked && !recent[i].Blocked() {
				continue
			}
			data, _ := json.Marshal(recent[i])
			fmt.Fprintf(w, "event: verdict\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
