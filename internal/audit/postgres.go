package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kappakonnect/edgeguard/internal/db"
)

// VerdictReader lists stored verdict log rows, newest first.
type VerdictReader interface {
	RecentVerdicts(ctx context.Context, limit int) ([]db.VerdictLogEntry, error)
}

// StoredHistory serves History from the verdict log table.
type StoredHistory struct {
	r VerdictReader
}

func NewStoredHistory(r VerdictReader) *StoredHistory {
	return &StoredHistory{r: r}
}

func (h *StoredHistory) Recent(ctx context.Context, limit int) ([]Event, error) {
	entries, err := h.r.RecentVerdicts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent verdicts: %w", err)
	}
	out := make([]Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, fromEntry(e))
	}
	return out, nil
}

// VerdictCounter aggregates stored verdict log rows per verdict and threat.
type VerdictCounter interface {
	VerdictCounts(ctx context.Context, since time.Time) ([]db.VerdictCount, error)
}

// StoredSnapshot builds a Snapshot from the verdict log rows newer than since.
// Unlike Stats it survives restarts and covers every instance sharing the log.
func StoredSnapshot(ctx context.Context, c VerdictCounter, since time.Time) (Snapshot, error) {
	counts, err := c.VerdictCounts(ctx, since)
	if err != nil {
		return Snapshot{}, fmt.Errorf("verdict counts: %w", err)
	}
	snap := Snapshot{
		Since:    since.UTC(),
		Verdicts: make(map[string]int64),
		Threats:  make(map[string]int64),
	}
	for _, vc := range counts {
		snap.Total += vc.Count
		if vc.Verdict != VerdictAllow {
			snap.Blocked += vc.Count
		}
		snap.Verdicts[vc.Verdict] += vc.Count
		if vc.Threat != ThreatNone {
			snap.Threats[vc.Threat] += vc.Count
		}
	}
	if snap.Total > 0 {
		snap.BlockRate = float64(snap.Blocked) / float64(snap.Total) * 100
	}
	return snap, nil
}

// VerdictWriter persists a batch of verdict log rows.
type VerdictWriter interface {
	InsertVerdicts(ctx context.Context, entries []db.VerdictLogEntry) error
}

const (
	sinkQueueSize  = 1024
	sinkBatchSize  = 100
	sinkFlushEvery = 2 * time.Second
)

// PostgresSink queues events and writes them in batches from Run.
// Events are dropped when the queue is full.
type PostgresSink struct {
	w      VerdictWriter
	queue  chan Event
	logger *slog.Logger
}

func NewPostgresSink(w VerdictWriter, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{
		w:      w,
		queue:  make(chan Event, sinkQueueSize),
		logger: logger,
	}
}

func (s *PostgresSink) Record(_ context.Context, ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("verdict sink queue full, dropping event", "id", ev.ID.String())
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (s *PostgresSink) Run(ctx context.Context) {
	ticker := time.NewTicker(sinkFlushEvery)
	defer ticker.Stop()

	batch := make([]db.VerdictLogEntry, 0, sinkBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.w.InsertVerdicts(ctx, batch); err != nil {
			s.logger.Error("failed to write verdicts", "count", len(batch), "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, toEntry(ev))
				default:
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(shutdownCtx)
					cancel()
					return
				}
			}
		case ev := <-s.queue:
			batch = append(batch, toEntry(ev))
			if len(batch) >= sinkBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func toEntry(ev Event) db.VerdictLogEntry {
	return db.VerdictLogEntry{
		ID:        ev.ID.String(),
		Timestamp: ev.Time,
		Method:    ev.Method,
		Path:      ev.Path,
		Query:     ev.Query,
		ClientKey: ev.ClientKey,
		Verdict:   ev.Verdict,
		Threat:    ev.Threat,
		Status:    ev.Status,
	}
}

func fromEntry(e db.VerdictLogEntry) Event {
	id, _ := uuid.Parse(e.ID)
	return Event{
		ID:        id,
		Time:      e.Timestamp,
		Method:    e.Method,
		Path:      e.Path,
		Query:     e.Query,
		ClientKey: e.ClientKey,
		Verdict:   e.Verdict,
		Threat:    e.Threat,
		Status:    e.Status,
	}
}
