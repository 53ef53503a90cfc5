package server

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Go runs fn under RunWithRecovery as a member of g, so g.Wait also waits for
// fn to return after ctx is cancelled.
func Go(ctx context.Context, g *errgroup.Group, logger *slog.Logger, name string, fn func(ctx context.Context)) {
	g.Go(func() error {
		RunWithRecovery(ctx, logger, name, fn)
		return nil
	})
}

// RunWithRecovery runs fn in a loop, recovering from panics with exponential backoff.
// It stops when ctx is cancelled.
func RunWithRecovery(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context)) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("goroutine stopped", "name", name, "reason", "context cancelled")
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("goroutine panicked",
						"name", name,
						"panic", r,
						"stack", string(debug.Stack()),
						"attempt", attempt,
					)
				}
			}()
			fn(ctx)
		}()

		select {
		case <-ctx.Done():
			return
		default:
		}

		attempt++
		backoff := backoffFor(attempt)
		logger.Warn("goroutine restarting",
			"name", name,
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// backoffFor returns 1s, 2s, 4s, ... capped at 5m.
func backoffFor(attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(time.Second)*math.Pow(2, float64(attempt-1)),
		float64(5*time.Minute),
	))
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger creates a structured slog.Logger with JSON output to stdout.
func SetupLogger(level string) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger creates a JSON logger writing to w.
func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}
