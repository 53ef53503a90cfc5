package ratelimit

import (
	"context"
	"time"
)

// Record is the fixed-window counter kept per client key.
type Record struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// UpdateFunc receives the current record (found is false when the key has
// none) and returns the record to store. write=false leaves the store as is.
type UpdateFunc func(cur Record, found bool) (next Record, write bool)

// Store holds rate records by key. Implementations must run Update as a
// single critical section per key so read-check-increment cannot interleave.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key string, rec Record) error
	Update(ctx context.Context, key string, fn UpdateFunc) (Record, error)
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that can drop expired records.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}
