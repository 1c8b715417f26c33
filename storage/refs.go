package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	refKindDirect   = "direct"
	refKindSymbolic = "symbolic"

	// RefHEAD, RefOrigHead, RefPrevHead, RefPrevBranch are the
	// well-known non-branch refs.
	RefHEAD       = "HEAD"
	RefOrigHead   = "ORIG_HEAD"
	RefPrevHead   = "PREV_HEAD"
	RefPrevBranch = "PREV_BRANCH"

	branchPrefix = "refs/heads/"

	DefaultBranch = "main"
)

// BranchRef returns the ref name a branch is stored under.
func BranchRef(name string) string { return branchPrefix + name }

// BranchNameFromRef strips the refs/heads/ prefix, or returns ok=false if
// ref isn't a branch ref.
func BranchNameFromRef(ref string) (string, bool) {
	if len(ref) > len(branchPrefix) && ref[:len(branchPrefix)] == branchPrefix {
		return ref[len(branchPrefix):], true
	}
	return "", false
}

type RefRepo struct{ exec execer }

func (r *RefRepo) getRaw(ctx context.Context, tractID, refName string) (kind, target string, err error) {
	row := r.exec.QueryRowContext(ctx,
		`SELECT kind, target FROM refs WHERE tract_id = ? AND ref_name = ?`, tractID, refName)
	if err := row.Scan(&kind, &target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("storage: get ref %s: %w", refName, err)
	}
	return kind, target, nil
}

func (r *RefRepo) setRaw(ctx context.Context, tractID, refName, kind, target, now string) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO refs(tract_id, ref_name, kind, target, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tract_id, ref_name) DO UPDATE SET kind=excluded.kind, target=excluded.target, updated_at=excluded.updated_at`,
		tractID, refName, kind, target, now)
	if err != nil {
		return fmt.Errorf("storage: set ref %s: %w", refName, err)
	}
	return nil
}

func (r *RefRepo) DeleteRef(ctx context.Context, tractID, refName string) error {
	_, err := r.exec.ExecContext(ctx, `DELETE FROM refs WHERE tract_id = ? AND ref_name = ?`, tractID, refName)
	if err != nil {
		return fmt.Errorf("storage: delete ref %s: %w", refName, err)
	}
	return nil
}

// GetHead resolves HEAD transparently: if HEAD is symbolic, follows it to
// the branch ref and returns that branch's commit hash.
func (r *RefRepo) GetHead(ctx context.Context, tractID string) (string, error) {
	kind, target, err := r.getRaw(ctx, tractID, RefHEAD)
	if err != nil {
		return "", err
	}
	if kind == refKindDirect {
		return target, nil
	}
	_, branchTarget, err := r.getRaw(ctx, tractID, target)
	if err != nil {
		return "", err
	}
	return branchTarget, nil
}

// IsHeadAttached reports whether HEAD currently points at a branch (true)
// or is detached at a raw commit hash (false).
func (r *RefRepo) IsHeadAttached(ctx context.Context, tractID string) (bool, error) {
	kind, _, err := r.getRaw(ctx, tractID, RefHEAD)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil // no commits yet; HEAD defaults to attached-to-main
		}
		return false, err
	}
	return kind == refKindSymbolic, nil
}

// CurrentBranch returns the branch name HEAD is attached to and true;
// ("", false, nil) when HEAD is detached; and (DefaultBranch, true, nil)
// when no HEAD ref exists yet.
func (r *RefRepo) CurrentBranch(ctx context.Context, tractID string) (string, bool, error) {
	kind, target, err := r.getRaw(ctx, tractID, RefHEAD)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DefaultBranch, true, nil
		}
		return "", false, err
	}
	if kind != refKindSymbolic {
		return "", false, nil
	}
	name, _ := BranchNameFromRef(target)
	return name, true, nil
}

// UpdateHead writes hash through to the current branch if HEAD is
// attached, otherwise updates the detached HEAD directly.
func (r *RefRepo) UpdateHead(ctx context.Context, tractID, hash, now string) error {
	kind, target, err := r.getRaw(ctx, tractID, RefHEAD)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		// first commit ever: attach HEAD to main and create the branch.
		if err := r.setRaw(ctx, tractID, BranchRef(DefaultBranch), refKindDirect, hash, now); err != nil {
			return err
		}
		return r.setRaw(ctx, tractID, RefHEAD, refKindSymbolic, BranchRef(DefaultBranch), now)
	}
	if kind == refKindSymbolic {
		return r.setRaw(ctx, tractID, target, refKindDirect, hash, now)
	}
	return r.setRaw(ctx, tractID, RefHEAD, refKindDirect, hash, now)
}

func (r *RefRepo) AttachHead(ctx context.Context, tractID, branch, now string) error {
	if _, _, err := r.getRaw(ctx, tractID, BranchRef(branch)); err != nil {
		return err
	}
	return r.setRaw(ctx, tractID, RefHEAD, refKindSymbolic, BranchRef(branch), now)
}

func (r *RefRepo) DetachHead(ctx context.Context, tractID, hash, now string) error {
	return r.setRaw(ctx, tractID, RefHEAD, refKindDirect, hash, now)
}

func (r *RefRepo) GetBranch(ctx context.Context, tractID, branch string) (string, error) {
	_, target, err := r.getRaw(ctx, tractID, BranchRef(branch))
	return target, err
}

func (r *RefRepo) SetBranch(ctx context.Context, tractID, branch, hash, now string) error {
	return r.setRaw(ctx, tractID, BranchRef(branch), refKindDirect, hash, now)
}

func (r *RefRepo) DeleteBranch(ctx context.Context, tractID, branch string) error {
	return r.DeleteRef(ctx, tractID, BranchRef(branch))
}

func (r *RefRepo) GetRef(ctx context.Context, tractID, refName string) (string, error) {
	_, target, err := r.getRaw(ctx, tractID, refName)
	return target, err
}

func (r *RefRepo) SetRef(ctx context.Context, tractID, refName, hash, now string) error {
	return r.setRaw(ctx, tractID, refName, refKindDirect, hash, now)
}

func (r *RefRepo) GetSymbolicRef(ctx context.Context, tractID, refName string) (string, error) {
	kind, target, err := r.getRaw(ctx, tractID, refName)
	if err != nil {
		return "", err
	}
	if kind != refKindSymbolic {
		return "", fmt.Errorf("storage: ref %s is not symbolic", refName)
	}
	return target, nil
}

func (r *RefRepo) SetSymbolicRef(ctx context.Context, tractID, refName, targetRef, now string) error {
	return r.setRaw(ctx, tractID, refName, refKindSymbolic, targetRef, now)
}

func (r *RefRepo) ListBranches(ctx context.Context, tractID string) ([]string, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT ref_name FROM refs
		WHERE tract_id = ? AND kind = 'direct' AND ref_name LIKE ?
		ORDER BY ref_name`, tractID, branchPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("storage: list branches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("storage: scan branch ref: %w", err)
		}
		if name, ok := BranchNameFromRef(ref); ok {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}
