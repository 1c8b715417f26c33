package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CompileRecord is a persisted summary of a compile used to accelerate
// repeat compiles with the same key.
type CompileRecord struct {
	ID           string
	TractID      string
	RootHash     string
	HeadHash     string
	OptionsHash  string
	MessageCount int
	TokenCount   int
	CreatedAt    string
}

type CompileRecordRepo struct{ exec execer }

func (r *CompileRecordRepo) Create(ctx context.Context, c CompileRecord, effective []string) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO compile_records(id, tract_id, root_hash, head_hash, options_hash, message_count, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TractID, nullable(c.RootHash), c.HeadHash, c.OptionsHash, c.MessageCount, c.TokenCount, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create compile record %s: %w", c.ID, err)
	}
	for i, h := range effective {
		if _, err := r.exec.ExecContext(ctx, `
			INSERT INTO compile_effective(compile_id, commit_hash, position) VALUES (?, ?, ?)`,
			c.ID, h, i); err != nil {
			return fmt.Errorf("storage: record effective commit %s: %w", h, err)
		}
	}
	return nil
}

// FindByKey looks up a cached compile record by its (head, options_hash)
// key. The in-memory compile cache does not consult it.
func (r *CompileRecordRepo) FindByKey(ctx context.Context, tractID, headHash, optionsHash string) (CompileRecord, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT id, tract_id, root_hash, head_hash, options_hash, message_count, token_count, created_at
		FROM compile_records
		WHERE tract_id = ? AND head_hash = ? AND options_hash = ?
		ORDER BY created_at DESC LIMIT 1`, tractID, headHash, optionsHash)
	var c CompileRecord
	var root sql.NullString
	if err := row.Scan(&c.ID, &c.TractID, &root, &c.HeadHash, &c.OptionsHash, &c.MessageCount, &c.TokenCount, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompileRecord{}, ErrNotFound
		}
		return CompileRecord{}, fmt.Errorf("storage: find compile record: %w", err)
	}
	c.RootHash = root.String
	return c, nil
}

func (r *CompileRecordRepo) EffectiveCommits(ctx context.Context, compileID string) ([]string, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT commit_hash FROM compile_effective WHERE compile_id = ? ORDER BY position`, compileID)
	if err != nil {
		return nil, fmt.Errorf("storage: effective commits for %s: %w", compileID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage: scan effective commit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
