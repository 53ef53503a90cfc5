package audit

import (
	"context"
	"sync"
	"time"
)

// Stats counts events since the process started.
type Stats struct {
	mu       sync.Mutex
	started  time.Time
	total    int64
	blocked  int64
	verdicts map[string]int64
	threats  map[string]int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Since     time.Time        `json:"since"`
	Total     int64            `json:"total_requests"`
	Blocked   int64            `json:"blocked_requests"`
	BlockRate float64          `json:"block_rate"`
	Verdicts  map[string]int64 `json:"verdicts"`
	Threats   map[string]int64 `json:"threats"`
}

func NewStats() *Stats {
	return &Stats{
		started:  time.Now().UTC(),
		verdicts: make(map[string]int64),
		threats:  make(map[string]int64),
	}
}

func (s *Stats) Record(_ context.Context, ev Event) {
	s.mu.Lock()
	s.total++
	if ev.Blocked() {
		s.blocked++
	}
	s.verdicts[ev.Verdict]++
	if ev.Threat != ThreatNone {
		s.threats[ev.Threat]++
	}
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Since:    s.started,
		Total:    s.total,
		Blocked:  s.blocked,
		Verdicts: make(map[string]int64, len(s.verdicts)),
		Threats:  make(map[string]int64, len(s.threats)),
	}
	if s.total > 0 {
		snap.BlockRate = float64(s.blocked) / float64(s.total) * 100
	}
	for k, v := range s.verdicts {
		snap.Verdicts[k] = v
	}
	for k, v := range s.threats {
		snap.Threats[k] = v
	}
	return snap
}
