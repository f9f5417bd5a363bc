package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBucket is an in-memory bucket (not persisted).
type MemoryBucket struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (b *MemoryBucket) Name() string     { return b.name }
func (b *MemoryBucket) Persistent() bool { return false }

func (b *MemoryBucket) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if e.expired(b.now()) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (b *MemoryBucket) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBucket) Purge(_ context.Context) (int, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, key)
			n++
		}
	}
	return n, nil
}
