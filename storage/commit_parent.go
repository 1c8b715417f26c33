package storage

import (
	"context"
	"fmt"
)

// CommitParentRepo records the extra parents of merge commits; the first
// parent always lives on the commits row itself.
type CommitParentRepo struct{ exec execer }

func (r *CommitParentRepo) Add(ctx context.Context, tractID, commitHash string, extraParents []string) error {
	for i, p := range extraParents {
		_, err := r.exec.ExecContext(ctx, `
			INSERT INTO commit_parents(tract_id, commit_hash, parent_hash, position)
			VALUES (?, ?, ?, ?)`, tractID, commitHash, p, i)
		if err != nil {
			return fmt.Errorf("storage: add extra parent %s of %s: %w", p, commitHash, err)
		}
	}
	return nil
}

// DeleteForCommit removes every extra-parent row of commitHash; only gc
// calls this, when the commit itself is being deleted.
func (r *CommitParentRepo) DeleteForCommit(ctx context.Context, tractID, commitHash string) error {
	_, err := r.exec.ExecContext(ctx,
		`DELETE FROM commit_parents WHERE tract_id = ? AND commit_hash = ?`, tractID, commitHash)
	if err != nil {
		return fmt.Errorf("storage: delete extra parents of %s: %w", commitHash, err)
	}
	return nil
}

func (r *CommitParentRepo) Get(ctx context.Context, tractID, commitHash string) ([]string, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT parent_hash FROM commit_parents
		WHERE tract_id = ? AND commit_hash = ?
		ORDER BY position`, tractID, commitHash)
	if err != nil {
		return nil, fmt.Errorf("storage: get extra parents of %s: %w", commitHash, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("storage: scan extra parent: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
