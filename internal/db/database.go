package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned by Connect when no DSN is given.
var ErrNotConfigured = errors.New("database not configured")

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool shared by the rate store and the verdict log.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool for dsn, pings it and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Migrate executes the embedded schema and makes sure the verdict_log
// partitions for this month and next exist.
func (db *DB) Migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	db.logger.Info("database migrated")

	return db.EnsureCurrentAndNextPartitions(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// PingContext checks the database connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Verdict log
// ---------------------------------------------------------------------------

// InsertVerdicts writes a batch of verdict log entries in one round trip.
func (db *DB) InsertVerdicts(ctx context.Context, entries []VerdictLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO verdict_log (id, ts, method, path, query, client_key, verdict, threat, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.Timestamp, e.Method, e.Path, e.Query, e.ClientKey, e.Verdict, e.Threat, e.Status)
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert verdicts: %w", err)
	}
	return nil
}

// RecentVerdicts returns the newest verdict log entries, newest first.
func (db *DB) RecentVerdicts(ctx context.Context, limit int) ([]VerdictLogEntry, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id::text, ts, method, path, query, client_key, verdict, threat, status
		 FROM verdict_log ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []VerdictLogEntry
	for rows.Next() {
		var e VerdictLogEntry
		var status int16
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Method, &e.Path, &e.Query, &e.ClientKey, &e.Verdict, &e.Threat, &status); err != nil {
			return nil, err
		}
		e.Status = int(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerdictCounts aggregates verdict_log rows newer than since.
func (db *DB) VerdictCounts(ctx context.Context, since time.Time) ([]VerdictCount, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT verdict, threat, COUNT(*) FROM verdict_log
		 WHERE ts >= $1 GROUP BY verdict, threat ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerdictCount
	for rows.Next() {
		var c VerdictCount
		if err := rows.Scan(&c.Verdict, &c.Threat, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Partitions
// ---------------------------------------------------------------------------

// EnsurePartition creates the monthly verdict_log partition containing t.
func (db *DB) EnsurePartition(ctx context.Context, t time.Time) error {
	year, month, _ := t.Date()
	name := fmt.Sprintf("verdict_log_%d_%02d", year, month)
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	quotedName := pgx.Identifier{name}.Sanitize()
	sql := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF verdict_log FOR VALUES FROM ('%s') TO ('%s')`,
		quotedName, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if _, err := db.Pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	db.logger.Debug("partition ensured", "table", name)
	return nil
}

// EnsureCurrentAndNextPartitions creates partitions for the current and next month.
func (db *DB) EnsureCurrentAndNextPartitions(ctx context.Context) error {
	now := time.Now().UTC()
	if err := db.EnsurePartition(ctx, now); err != nil {
		return err
	}
	return db.EnsurePartition(ctx, now.AddDate(0, 1, 0))
}

// PartitionLoop re-checks partitions daily so month rollovers never drop rows.
func (db *DB) PartitionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.EnsureCurrentAndNextPartitions(ctx); err != nil {
				db.logger.Error("ensure partitions failed", "err", err)
			}
		}
	}
}
