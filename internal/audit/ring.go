package audit

import (
	"context"
	"sync"
)

// History serves recently recorded events, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// DefaultRingSize is the number of events kept by NewRing(0).
const DefaultRingSize = 500

// Ring keeps the most recent events in memory.
type Ring struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Event, size)}
}

func (r *Ring) Record(_ context.Context, ev Event) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit events, newest first. A non-positive limit
// returns everything held.
func (r *Ring) Recent(_ context.Context, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out, nil
}
