package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Commit is a single DAG node, first-parent plus everything needed to
// reconstruct the compiled view and hash inputs.
type Commit struct {
	CommitHash            string
	TractID                string
	ParentHash             string // empty for root
	ContentHash            string
	ContentType            string
	Operation              string // "append" | "edit"
	EditTarget             string // non-empty only when Operation == "edit"
	ResponseTo             string // optional reply_to thread-linking, outside the hash input
	Message                string
	TokenCount              int
	MetadataJSON            string
	GenerationConfigJSON    string
	CreatedAt              string
}

type CommitRepo struct{ exec execer }

func (r *CommitRepo) Create(ctx context.Context, c Commit) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO commits(
			commit_hash, tract_id, parent_hash, content_hash, content_type,
			operation, edit_target, response_to, message, token_count,
			metadata_json, generation_config_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CommitHash, c.TractID, nullable(c.ParentHash), c.ContentHash, c.ContentType,
		c.Operation, nullable(c.EditTarget), nullable(c.ResponseTo), nullable(c.Message), c.TokenCount,
		nullable(c.MetadataJSON), nullable(c.GenerationConfigJSON), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create commit %s: %w", c.CommitHash, err)
	}
	return nil
}

func (r *CommitRepo) Get(ctx context.Context, tractID, commitHash string) (Commit, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT commit_hash, tract_id, parent_hash, content_hash, content_type,
		       operation, edit_target, response_to, message, token_count,
		       metadata_json, generation_config_json, created_at
		FROM commits WHERE tract_id = ? AND commit_hash = ?`, tractID, commitHash)
	return scanCommit(row)
}

func scanCommit(row *sql.Row) (Commit, error) {
	var c Commit
	var parentHash, editTarget, responseTo, message, metadata, genConfig sql.NullString
	if err := row.Scan(&c.CommitHash, &c.TractID, &parentHash, &c.ContentHash, &c.ContentType,
		&c.Operation, &editTarget, &responseTo, &message, &c.TokenCount,
		&metadata, &genConfig, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Commit{}, ErrNotFound
		}
		return Commit{}, fmt.Errorf("storage: scan commit: %w", err)
	}
	c.ParentHash = parentHash.String
	c.EditTarget = editTarget.String
	c.ResponseTo = responseTo.String
	c.Message = message.String
	c.MetadataJSON = metadata.String
	c.GenerationConfigJSON = genConfig.String
	return c, nil
}

// ByPrefix resolves a >=4-character hex prefix to the unique matching
// commit; ErrNotFound when none matches, and an "ambiguous prefix" error
// when two or more do.
func (r *CommitRepo) ByPrefix(ctx context.Context, tractID, prefix string) (Commit, error) {
	if len(prefix) < 4 {
		return Commit{}, fmt.Errorf("storage: prefix %q shorter than 4 characters", prefix)
	}
	rows, err := r.exec.QueryContext(ctx, `
		SELECT commit_hash, tract_id, parent_hash, content_hash, content_type,
		       operation, edit_target, response_to, message, token_count,
		       metadata_json, generation_config_json, created_at
		FROM commits WHERE tract_id = ? AND commit_hash LIKE ? || '%' LIMIT 2`,
		tractID, prefix)
	if err != nil {
		return Commit{}, fmt.Errorf("storage: resolve prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var matches []Commit
	for rows.Next() {
		var c Commit
		var parentHash, editTarget, responseTo, message, metadata, genConfig sql.NullString
		if err := rows.Scan(&c.CommitHash, &c.TractID, &parentHash, &c.ContentHash, &c.ContentType,
			&c.Operation, &editTarget, &responseTo, &message, &c.TokenCount,
			&metadata, &genConfig, &c.CreatedAt); err != nil {
			return Commit{}, fmt.Errorf("storage: scan prefix match: %w", err)
		}
		c.ParentHash = parentHash.String
		c.EditTarget = editTarget.String
		c.ResponseTo = responseTo.String
		c.Message = message.String
		c.MetadataJSON = metadata.String
		c.GenerationConfigJSON = genConfig.String
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return Commit{}, fmt.Errorf("storage: resolve prefix %q: %w", prefix, err)
	}
	switch len(matches) {
	case 0:
		return Commit{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return Commit{}, fmt.Errorf("storage: ambiguous prefix %q matches %d commits", prefix, len(matches))
	}
}

// ListByHashes returns every commit named in hashes, in no particular
// order; missing hashes are silently skipped (caller compares lengths if
// it needs strict validation).
func (r *CommitRepo) ListByHashes(ctx context.Context, tractID string, hashes []string) ([]Commit, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(hashes)+1)
	args = append(args, tractID)
	for _, h := range hashes {
		args = append(args, h)
	}
	query := fmt.Sprintf(`
		SELECT commit_hash, tract_id, parent_hash, content_hash, content_type,
		       operation, edit_target, response_to, message, token_count,
		       metadata_json, generation_config_json, created_at
		FROM commits WHERE tract_id = ? AND commit_hash IN (%s)`, placeholders(len(hashes)))
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list commits by hash: %w", err)
	}
	defer rows.Close()
	var out []Commit
	for rows.Next() {
		var c Commit
		var parentHash, editTarget, responseTo, message, metadata, genConfig sql.NullString
		if err := rows.Scan(&c.CommitHash, &c.TractID, &parentHash, &c.ContentHash, &c.ContentType,
			&c.Operation, &editTarget, &responseTo, &message, &c.TokenCount,
			&metadata, &genConfig, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan commit: %w", err)
		}
		c.ParentHash = parentHash.String
		c.EditTarget = editTarget.String
		c.ResponseTo = responseTo.String
		c.Message = message.String
		c.MetadataJSON = metadata.String
		c.GenerationConfigJSON = genConfig.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// EditsOf returns every edit commit whose edit_target is targetHash, most
// recent first, used for edit_history(h).
func (r *CommitRepo) EditsOf(ctx context.Context, tractID, targetHash string) ([]Commit, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT commit_hash, tract_id, parent_hash, content_hash, content_type,
		       operation, edit_target, response_to, message, token_count,
		       metadata_json, generation_config_json, created_at
		FROM commits
		WHERE tract_id = ? AND edit_target = ?
		ORDER BY created_at DESC`, tractID, targetHash)
	if err != nil {
		return nil, fmt.Errorf("storage: edits of %s: %w", targetHash, err)
	}
	defer rows.Close()
	var out []Commit
	for rows.Next() {
		var c Commit
		var parentHash, editTarget, responseTo, message, metadata, genConfig sql.NullString
		if err := rows.Scan(&c.CommitHash, &c.TractID, &parentHash, &c.ContentHash, &c.ContentType,
			&c.Operation, &editTarget, &responseTo, &message, &c.TokenCount,
			&metadata, &genConfig, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan edit: %w", err)
		}
		c.ParentHash = parentHash.String
		c.EditTarget = editTarget.String
		c.ResponseTo = responseTo.String
		c.Message = message.String
		c.MetadataJSON = metadata.String
		c.GenerationConfigJSON = genConfig.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllForTract returns every commit belonging to tractID, used by gc
// reachability scans. Order is unspecified.
func (r *CommitRepo) AllForTract(ctx context.Context, tractID string) ([]Commit, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT commit_hash, tract_id, parent_hash, content_hash, content_type,
		       operation, edit_target, response_to, message, token_count,
		       metadata_json, generation_config_json, created_at
		FROM commits WHERE tract_id = ?`, tractID)
	if err != nil {
		return nil, fmt.Errorf("storage: list commits for tract %s: %w", tractID, err)
	}
	defer rows.Close()
	var out []Commit
	for rows.Next() {
		var c Commit
		var parentHash, editTarget, responseTo, message, metadata, genConfig sql.NullString
		if err := rows.Scan(&c.CommitHash, &c.TractID, &parentHash, &c.ContentHash, &c.ContentType,
			&c.Operation, &editTarget, &responseTo, &message, &c.TokenCount,
			&metadata, &genConfig, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan commit: %w", err)
		}
		c.ParentHash = parentHash.String
		c.EditTarget = editTarget.String
		c.ResponseTo = responseTo.String
		c.Message = message.String
		c.MetadataJSON = metadata.String
		c.GenerationConfigJSON = genConfig.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CommitRepo) Delete(ctx context.Context, tractID, commitHash string) error {
	_, err := r.exec.ExecContext(ctx, `DELETE FROM commits WHERE tract_id = ? AND commit_hash = ?`, tractID, commitHash)
	if err != nil {
		return fmt.Errorf("storage: delete commit %s: %w", commitHash, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// trimHashList trims whitespace from each hash and drops empty entries,
// for building IN clauses by hand outside of ListByHashes. Nothing in
// the module calls it.
func trimHashList(hashes []string) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
