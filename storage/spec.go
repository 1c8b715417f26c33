package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SavedSpec is a persisted dynamic operation specification, stored as a
// row of the saved_specs table. Tract open loads specs from the on-disk
// JSON files of hooks.SpecStore, not from this table.
type SavedSpec struct {
	Name      string
	SpecJSON  string
	CreatedAt string
}

type SpecRepo struct{ exec execer }

func (r *SpecRepo) Create(ctx context.Context, s SavedSpec) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO saved_specs(name, spec_json, created_at) VALUES (?, ?, ?)`,
		s.Name, s.SpecJSON, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create saved spec %s: %w", s.Name, err)
	}
	return nil
}

func (r *SpecRepo) Get(ctx context.Context, name string) (SavedSpec, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT name, spec_json, created_at FROM saved_specs WHERE name = ?`, name)
	var s SavedSpec
	if err := row.Scan(&s.Name, &s.SpecJSON, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SavedSpec{}, ErrNotFound
		}
		return SavedSpec{}, fmt.Errorf("storage: get saved spec %s: %w", name, err)
	}
	return s, nil
}

func (r *SpecRepo) Delete(ctx context.Context, name string) error {
	_, err := r.exec.ExecContext(ctx, `DELETE FROM saved_specs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("storage: delete saved spec %s: %w", name, err)
	}
	return nil
}

func (r *SpecRepo) List(ctx context.Context) ([]SavedSpec, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT name, spec_json, created_at FROM saved_specs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list saved specs: %w", err)
	}
	defer rows.Close()
	var out []SavedSpec
	for rows.Next() {
		var s SavedSpec
		if err := rows.Scan(&s.Name, &s.SpecJSON, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan saved spec: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
