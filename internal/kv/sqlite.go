package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteBucket is a persistent bucket stored in the kv_store table.
type SQLiteBucket struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// NewSQLiteBucket creates a bucket over an opened database (see db.Open).
func NewSQLiteBucket(db *sql.DB, name string) *SQLiteBucket {
	return &SQLiteBucket{
		db:   db,
		name: name,
		now:  time.Now,
	}
}

func (b *SQLiteBucket) Name() string     { return b.name }
func (b *SQLiteBucket) Persistent() bool { return true }

func (b *SQLiteBucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM kv_store
		WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", b.name, key, err)
	}

	if expiresAt.Valid && b.now().UTC().Unix() >= expiresAt.Int64 {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (b *SQLiteBucket) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.now().UTC()

	var expiresAt *int64
	if ttl > 0 {
		exp := now.Add(ttl).Unix()
		expiresAt = &exp
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_store (bucket, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, b.name, key, value, expiresAt, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", b.name, key, err)
	}
	return nil
}

func (b *SQLiteBucket) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", b.name, key, err)
	}
	return nil
}

// Purge removes expired entries of this bucket.
func (b *SQLiteBucket) Purge(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM kv_store
		WHERE bucket = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, b.name, b.now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", b.name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
