package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMemorySize bounds the number of keys kept in memory.
const DefaultMemorySize = 100_000

// MemoryStore is a process-local store. When full, the least recently used
// key is evicted, which for that client is the same as a window reset.
type MemoryStore struct {
	mu        sync.Mutex
	records   *simplelru.LRU[string, Record]
	evictions uint64
}

// NewMemoryStore creates a store holding at most size keys.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	records, err := simplelru.NewLRU[string, Record](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{records: records}, nil
}

// Get returns the record for key without touching its recency.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records.Peek(key)
	return rec, ok, nil
}

// Set stores rec under key.
func (s *MemoryStore) Set(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(key, rec)
	return nil
}

// Update runs fn under the store lock.
func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.records.Get(key)
	next, write := fn(cur, found)
	if !write {
		return cur, nil
	}
	s.add(key, next)
	return next, nil
}

func (s *MemoryStore) add(key string, rec Record) {
	if s.records.Add(key, rec) {
		s.evictions++
	}
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Remove(key)
	return nil
}

// Sweep drops records whose window ended before now.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.records.Keys() {
		rec, ok := s.records.Peek(key)
		if ok && now.After(rec.WindowResetAt) {
			s.records.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Len()
}

// Evictions returns how many keys were pushed out by the size bound.
func (s *MemoryStore) Evictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
