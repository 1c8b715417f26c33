package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OperationEvent records one invocation of compress/merge/rebase/gc/etc.
type OperationEvent struct {
	ID         string
	TractID    string
	Operation  string
	ParamsJSON string
	ResultJSON string
	CreatedAt  string
}

type OperationEventRepo struct{ exec execer }

func (r *OperationEventRepo) Create(ctx context.Context, e OperationEvent) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO operation_events(id, tract_id, operation, params_json, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TractID, e.Operation, nullable(e.ParamsJSON), nullable(e.ResultJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create operation event %s: %w", e.ID, err)
	}
	return nil
}

func (r *OperationEventRepo) Get(ctx context.Context, id string) (OperationEvent, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT id, tract_id, operation, params_json, result_json, created_at
		FROM operation_events WHERE id = ?`, id)
	var e OperationEvent
	var params, result sql.NullString
	if err := row.Scan(&e.ID, &e.TractID, &e.Operation, &params, &result, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OperationEvent{}, ErrNotFound
		}
		return OperationEvent{}, fmt.Errorf("storage: get operation event %s: %w", id, err)
	}
	e.ParamsJSON = params.String
	e.ResultJSON = result.String
	return e, nil
}

// LinkCommit associates event eventID with a produced/consumed commit.
func (r *OperationEventRepo) LinkCommit(ctx context.Context, eventID, commitHash, role string) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO operation_commits(event_id, commit_hash, role)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id, commit_hash, role) DO NOTHING`, eventID, commitHash, role)
	if err != nil {
		return fmt.Errorf("storage: link commit %s to event %s: %w", commitHash, eventID, err)
	}
	return nil
}

const (
	OperationCommitRoleInput  = "input"
	OperationCommitRoleOutput = "output"
)

// ArchivedCommits returns the set of commits consumed as inputs by any
// compression event in the tract; gc applies the archive retention
// window to these instead of the orphan window.
func (r *OperationEventRepo) ArchivedCommits(ctx context.Context, tractID string) (map[string]bool, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT oc.commit_hash
		FROM operation_commits oc
		JOIN operation_events oe ON oe.id = oc.event_id
		WHERE oe.tract_id = ? AND oe.operation = 'compress' AND oc.role = 'input'`, tractID)
	if err != nil {
		return nil, fmt.Errorf("storage: archived commits: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage: scan archived commit: %w", err)
		}
		out[h] = true
	}
	return out, rows.Err()
}

func (r *OperationEventRepo) CommitsForEvent(ctx context.Context, eventID, role string) ([]string, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT commit_hash FROM operation_commits WHERE event_id = ? AND role = ?`, eventID, role)
	if err != nil {
		return nil, fmt.Errorf("storage: commits for event %s: %w", eventID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage: scan operation commit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
