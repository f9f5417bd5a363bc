// Package kv stores small cached values with an optional expiry, either in
// memory or in the shared SQLite database.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Bucket is a namespaced key-value store. A zero ttl means no expiry.
type Bucket interface {
	Name() string
	Persistent() bool

	// Get returns ok=false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Purge drops expired entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Typed stores JSON-encoded values of T in a bucket.
type Typed[T any] struct {
	bucket Bucket
	ttl    time.Duration
}

// NewTyped wraps b. Every Put uses ttl.
func NewTyped[T any](b Bucket, ttl time.Duration) *Typed[T] {
	return &Typed[T]{bucket: b, ttl: ttl}
}

// Get decodes the value under key.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, ok, err := t.bucket.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode %s/%s: %w", t.bucket.Name(), key, err)
	}
	return v, true, nil
}

// Put encodes v under key.
func (t *Typed[T]) Put(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", t.bucket.Name(), key, err)
	}
	return t.bucket.Put(ctx, key, raw, t.ttl)
}

// Bucket returns the underlying bucket.
func (t *Typed[T]) Bucket() Bucket {
	return t.bucket
}
