package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps rate records in the rate_records table so several edge
// instances share counters. The table is created by db.Migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the record for key. Placeholder rows (count 0) read as absent.
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT count, window_reset_at FROM rate_records WHERE key = $1`,
		key).Scan(&rec.Count, &rec.WindowResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get rate record: %w", err)
	}
	return rec, rec.Count > 0, nil
}

// Set upserts rec under key.
func (s *PostgresStore) Set(ctx context.Context, key string, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_records (key, count, window_reset_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET count = EXCLUDED.count, window_reset_at = EXCLUDED.window_reset_at`,
		key, rec.Count, rec.WindowResetAt)
	if err != nil {
		return fmt.Errorf("set rate record: %w", err)
	}
	return nil
}

// Update locks the key's row for the duration of fn. A placeholder row is
// inserted first so concurrent first requests serialize on the same lock.
func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) (Record, error) {
	var out Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rate_records (key, count, window_reset_at) VALUES ($1, 0, to_timestamp(0))
			 ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return fmt.Errorf("ensure row: %w", err)
		}

		var cur Record
		if err := tx.QueryRow(ctx,
			`SELECT count, window_reset_at FROM rate_records WHERE key = $1 FOR UPDATE`,
			key).Scan(&cur.Count, &cur.WindowResetAt); err != nil {
			return fmt.Errorf("lock row: %w", err)
		}

		next, write := fn(cur, cur.Count > 0)
		if !write {
			out = cur
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE rate_records SET count = $2, window_reset_at = $3 WHERE key = $1`,
			key, next.Count, next.WindowResetAt); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("update rate record: %w", err)
	}
	return out, nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rate_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete rate record: %w", err)
	}
	return nil
}

// Sweep deletes rows whose window ended before now.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_records WHERE window_reset_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep rate records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Sweeper = (*PostgresStore)(nil)
)
