package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Blob is a canonical-JSON byte string keyed by its content hash.
type Blob struct {
	ContentHash string
	PayloadJSON []byte
	ByteSize    int
	TokenCount  int
	CreatedAt   string
}

type BlobRepo struct{ exec execer }

// Create inserts a blob if its content_hash isn't already stored; blobs
// are deduplicated by content and created lazily by the first commit
// that references them.
func (r *BlobRepo) Create(ctx context.Context, b Blob) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO blobs(content_hash, payload_json, byte_size, token_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		b.ContentHash, b.PayloadJSON, b.ByteSize, b.TokenCount, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create blob %s: %w", b.ContentHash, err)
	}
	return nil
}

func (r *BlobRepo) Get(ctx context.Context, contentHash string) (Blob, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT content_hash, payload_json, byte_size, token_count, created_at
		FROM blobs WHERE content_hash = ?`, contentHash)
	var b Blob
	if err := row.Scan(&b.ContentHash, &b.PayloadJSON, &b.ByteSize, &b.TokenCount, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("storage: get blob %s: %w", contentHash, err)
	}
	return b, nil
}

func (r *BlobRepo) Exists(ctx context.Context, contentHash string) (bool, error) {
	var n int
	row := r.exec.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE content_hash = ?`, contentHash)
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("storage: check blob %s: %w", contentHash, err)
	}
	return true, nil
}

// Delete removes a blob; callers (gc) must ensure no reachable commit
// references it first.
func (r *BlobRepo) Delete(ctx context.Context, contentHash string) error {
	_, err := r.exec.ExecContext(ctx, `DELETE FROM blobs WHERE content_hash = ?`, contentHash)
	if err != nil {
		return fmt.Errorf("storage: delete blob %s: %w", contentHash, err)
	}
	return nil
}

// ReferencedBy reports whether any commit in tract references contentHash,
// used by gc before deleting a blob.
func (r *BlobRepo) ReferencedBy(ctx context.Context, tractID, contentHash string) (bool, error) {
	var n int
	row := r.exec.QueryRowContext(ctx,
		`SELECT 1 FROM commits WHERE tract_id = ? AND content_hash = ? LIMIT 1`,
		tractID, contentHash)
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("storage: check blob references %s: %w", contentHash, err)
	}
	return true, nil
}
