// Package idempo records the outcome of submit-like operations under their
// idempotency key. A retried request with the same key replays the stored
// outcome instead of hitting the ledger again, which makes retries after a
// timeout safe for sale submission, discount application, shift close and
// correction submission.
package idempo

import (
	"context"
	"sync"
	"time"
)

type Registry interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryRegistry is the process-local registry used by tests and dev mode.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: map[string]memoryEntry{}}
}

func (r *MemoryRegistry) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(r.entries, key)
		return nil, false, nil
	}
	return entry.payload, true, nil
}

func (r *MemoryRegistry) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	r.entries[key] = entry
	return nil
}
