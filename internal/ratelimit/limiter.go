// Package ratelimit implements a per-key fixed-window request counter.
//
// The counter is a single fixed window per key, not a sliding
// window: a client can land up to 2x MaxRequests across a window boundary.
// Counts live in a Store and may reset at any time (process restart, LRU
// eviction), so the limiter is advisory rather than a hard security control.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100
)

// Config defines the window parameters.
type Config struct {
	Window      time.Duration
	MaxRequests int
	// FailClosed rejects requests when the store errors. The default admits
	// them so a store outage cannot take the site down.
	FailClosed bool
	Now        func() time.Time
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
	// Err is set when the store failed and the decision came from the
	// fail-open/fail-closed policy.
	Err error
}

// Limiter applies the fixed-window algorithm on top of a Store.
type Limiter struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// New creates a limiter. Zero config fields take the package defaults.
func New(store Store, cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// MaxRequests returns the per-window limit.
func (l *Limiter) MaxRequests() int { return l.cfg.MaxRequests }

// CheckAndConsume admits or rejects one request for key.
//
// No record, or a record whose window has passed, starts a new window at
// count 1. A record at the limit rejects without incrementing. Otherwise the
// count is incremented.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string) Decision {
	now := l.cfg.Now()
	allowed := false
	rec, err := l.store.Update(ctx, key, func(cur Record, found bool) (Record, bool) {
		switch {
		case !found || now.After(cur.WindowResetAt):
			allowed = true
			return Record{Count: 1, WindowResetAt: now.Add(l.cfg.Window)}, true
		case cur.Count >= l.cfg.MaxRequests:
			allowed = false
			return cur, false
		default:
			allowed = true
			cur.Count++
			return cur, true
		}
	})
	if err != nil {
		l.logger.Warn("rate store unavailable", "key", key, "fail_closed", l.cfg.FailClosed, "err", err)
		return Decision{
			Allowed: !l.cfg.FailClosed,
			ResetAt: now.Add(l.cfg.Window),
			Err:     err,
		}
	}
	return Decision{Allowed: allowed, Count: rec.Count, ResetAt: rec.WindowResetAt}
}

// Sweep drops expired records when the store supports it.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	sw, ok := l.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Sweep(ctx, l.cfg.Now())
}

// SweepLoop runs Sweep once per window until ctx is cancelled.
func (l *Limiter) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("rate store sweep failed", "err", err)
				continue
			}
			if n > 0 {
				l.logger.Debug("rate store swept", "removed", n)
			}
		}
	}
}
