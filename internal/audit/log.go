package audit

import (
	"context"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the rotating audit file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewRotatingWriter returns a lumberjack writer for cfg.
func NewRotatingWriter(cfg FileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// LogRecorder writes one JSON line per event.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder logs events as JSON to w.
func NewLogRecorder(w io.Writer) *LogRecorder {
	return &LogRecorder{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (l *LogRecorder) Record(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	if ev.Blocked() {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "verdict",
		slog.String("id", ev.ID.String()),
		slog.String("method", ev.Method),
		slog.String("path", ev.Path),
		slog.String("query", ev.Query),
		slog.String("client_key", ev.ClientKey),
		slog.String("verdict", ev.Verdict),
		slog.String("threat", ev.Threat),
		slog.Int("status", ev.Status),
	)
}
