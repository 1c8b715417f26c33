package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Annotation is one append-only priority log row; "current" priority for
// a target is the row with the latest created_at.
type Annotation struct {
	ID                    int64
	TractID                string
	TargetHash             string
	Priority               string
	Reason                 string
	RetentionInstructions  string
	RetentionPatternsJSON  string // JSON array of {pattern, mode}
	RetentionMode          string
	CreatedAt              string
}

type AnnotationRepo struct{ exec execer }

func (r *AnnotationRepo) Append(ctx context.Context, a Annotation) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO annotations(
			tract_id, target_hash, priority, reason,
			retention_instructions, retention_patterns_json, retention_mode, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TractID, a.TargetHash, a.Priority, nullable(a.Reason),
		nullable(a.RetentionInstructions), nullable(a.RetentionPatternsJSON), nullable(a.RetentionMode), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append annotation for %s: %w", a.TargetHash, err)
	}
	return nil
}

// Latest returns the most recent annotation for targetHash, or
// ErrNotFound if none exists (callers fall back to the content-type
// default priority in that case).
func (r *AnnotationRepo) Latest(ctx context.Context, tractID, targetHash string) (Annotation, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT id, tract_id, target_hash, priority, reason,
		       retention_instructions, retention_patterns_json, retention_mode, created_at
		FROM annotations
		WHERE tract_id = ? AND target_hash = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, tractID, targetHash)
	var a Annotation
	var reason, retInstr, retPatterns, retMode sql.NullString
	if err := row.Scan(&a.ID, &a.TractID, &a.TargetHash, &a.Priority, &reason,
		&retInstr, &retPatterns, &retMode, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Annotation{}, ErrNotFound
		}
		return Annotation{}, fmt.Errorf("storage: latest annotation for %s: %w", targetHash, err)
	}
	a.Reason = reason.String
	a.RetentionInstructions = retInstr.String
	a.RetentionPatternsJSON = retPatterns.String
	a.RetentionMode = retMode.String
	return a, nil
}

// LatestForMany batches Latest across multiple targets, returning a map
// keyed by target_hash; targets with no annotation are simply absent.
func (r *AnnotationRepo) LatestForMany(ctx context.Context, tractID string, targets []string) (map[string]Annotation, error) {
	out := make(map[string]Annotation, len(targets))
	if len(targets) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(targets)+1)
	args = append(args, tractID)
	for _, t := range targets {
		args = append(args, t)
	}
	query := fmt.Sprintf(`
		SELECT id, tract_id, target_hash, priority, reason,
		       retention_instructions, retention_patterns_json, retention_mode, created_at
		FROM annotations
		WHERE tract_id = ? AND target_hash IN (%s)
		ORDER BY target_hash, created_at ASC, id ASC`, placeholders(len(targets)))
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: latest annotations for many: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Annotation
		var reason, retInstr, retPatterns, retMode sql.NullString
		if err := rows.Scan(&a.ID, &a.TractID, &a.TargetHash, &a.Priority, &reason,
			&retInstr, &retPatterns, &retMode, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan annotation: %w", err)
		}
		a.Reason = reason.String
		a.RetentionInstructions = retInstr.String
		a.RetentionPatternsJSON = retPatterns.String
		a.RetentionMode = retMode.String
		// ascending order means the last write for each target wins.
		out[a.TargetHash] = a
	}
	return out, rows.Err()
}

// DeleteForTarget removes every annotation row for targetHash; only gc
// calls this, when the target commit itself is being deleted.
func (r *AnnotationRepo) DeleteForTarget(ctx context.Context, tractID, targetHash string) error {
	_, err := r.exec.ExecContext(ctx,
		`DELETE FROM annotations WHERE tract_id = ? AND target_hash = ?`, tractID, targetHash)
	if err != nil {
		return fmt.Errorf("storage: delete annotations for %s: %w", targetHash, err)
	}
	return nil
}

// Counts returns {pinned, important, normal, skip} counts of current
// (latest-row) priorities across every annotated commit in the tract.
func (r *AnnotationRepo) Counts(ctx context.Context, tractID string) (map[string]int, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT priority, COUNT(*) FROM (
			SELECT target_hash, priority,
			       ROW_NUMBER() OVER (PARTITION BY target_hash ORDER BY created_at DESC, id DESC) AS rn
			FROM annotations WHERE tract_id = ?
		) WHERE rn = 1
		GROUP BY priority`, tractID)
	if err != nil {
		return nil, fmt.Errorf("storage: annotation counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{"pinned": 0, "important": 0, "normal": 0, "skip": 0}
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("storage: scan annotation count: %w", err)
		}
		out[priority] = count
	}
	return out, rows.Err()
}
