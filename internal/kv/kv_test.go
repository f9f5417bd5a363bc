package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/panelhub/internal/db"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func buckets(t *testing.T, c *clock) map[string]Bucket {
	t.Helper()

	d, err := db.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	mem := NewMemoryBucket("test")
	mem.now = c.now
	sq := NewSQLiteBucket(d.DB, "test")
	sq.now = c.now

	return map[string]Bucket{"memory": mem, "sqlite": sq}
}

func TestBucket_PutGetDelete(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	ctx := context.Background()

	for name, b := range buckets(t, c) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Put(ctx, "k", []byte("v1"), 0))
			require.NoError(t, b.Put(ctx, "k", []byte("v2"), 0))

			v, ok, err := b.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v2", string(v))

			require.NoError(t, b.Delete(ctx, "k"))
			_, ok, err = b.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBucket_TTL(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	ctx := context.Background()

	for name, b := range buckets(t, c) {
		t.Run(name, func(t *testing.T) {
			c.t = time.Unix(1_700_000_000, 0)
			require.NoError(t, b.Put(ctx, "short", []byte("x"), time.Minute))
			require.NoError(t, b.Put(ctx, "short2", []byte("x"), time.Minute))
			require.NoError(t, b.Put(ctx, "forever", []byte("y"), 0))

			_, ok, err := b.Get(ctx, "short")
			require.NoError(t, err)
			assert.True(t, ok)

			c.t = c.t.Add(2 * time.Minute)

			_, ok, err = b.Get(ctx, "short")
			require.NoError(t, err)
			assert.False(t, ok, "expired entries are hidden")

			n, err := b.Purge(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "short2 is purged, short was already dropped on read")

			_, ok, err = b.Get(ctx, "forever")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSQLiteBucket_Isolation(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	a := NewSQLiteBucket(d.DB, "a")
	b := NewSQLiteBucket(d.DB, "b")

	require.NoError(t, a.Put(ctx, "k", []byte("from-a"), 0))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, a.Persistent())
}

func TestTyped(t *testing.T) {
	type payload struct {
		Colour []int `json:"colour"`
		None   bool  `json:"none"`
	}

	ctx := context.Background()
	typed := NewTyped[payload](NewMemoryBucket("typed"), time.Hour)

	_, ok, err := typed.Get(ctx, "scene@1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, typed.Put(ctx, "scene@1", payload{Colour: []int{255, 0, 0}}))
	got, ok, err := typed.Get(ctx, "scene@1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{255, 0, 0}, got.Colour)

	require.NoError(t, typed.Bucket().Put(ctx, "broken", []byte("{"), 0))
	_, _, err = typed.Get(ctx, "broken")
	assert.Error(t, err)
}
