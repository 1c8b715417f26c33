// Package nav implements reset/checkout/resolve and the ORIG_HEAD/
// PREV_HEAD/PREV_BRANCH bookkeeping behind them: git-shaped verbs over a
// DAG store with no working tree.
package nav

import (
	"context"
	"time"

	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Navigator resolves refs and moves HEAD for one tract.
type Navigator struct {
	Store   *storage.Store
	TractID string
	Now     func() time.Time
}

func New(store *storage.Store, tractID string) *Navigator {
	return &Navigator{Store: store, TractID: tractID, Now: time.Now}
}

func (n *Navigator) now() string { return n.Now().UTC().Format(time.RFC3339Nano) }

// Resolve tries, in order: exact commit hash, branch name, >=4-char hex
// prefix, returning the full commit hash or a CommitNotFound/
// AmbiguousPrefix error.
func (n *Navigator) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", tracterr.New(tracterr.KindCommitNotFound, "empty ref")
	}
	if c, err := n.Store.Commits.Get(ctx, n.TractID, ref); err == nil {
		return c.CommitHash, nil
	}
	if hash, err := n.Store.Refs.GetBranch(ctx, n.TractID, ref); err == nil {
		return hash, nil
	}
	if len(ref) >= 4 {
		c, err := n.Store.Commits.ByPrefix(ctx, n.TractID, ref)
		if err == nil {
			return c.CommitHash, nil
		}
		if err != storage.ErrNotFound {
			return "", tracterr.Wrap(tracterr.KindAmbiguousPrefix, err, "resolving prefix "+ref)
		}
	}
	return "", tracterr.Newf(tracterr.KindCommitNotFound, "no commit, branch, or prefix matches %q", ref)
}

// ResetMode distinguishes soft from hard resets. They are behaviorally
// identical (there is no working tree) but hard is gated on an explicit
// force flag so the verb still reads like git.
type ResetMode string

const (
	ResetSoft ResetMode = "soft"
	ResetHard ResetMode = "hard"
)

// Reset stores current HEAD as ORIG_HEAD and moves HEAD to target.
func (n *Navigator) Reset(ctx context.Context, target string, mode ResetMode, force bool) error {
	if mode == ResetHard && !force {
		return tracterr.New(tracterr.KindSemanticSafety, "hard reset requires force=true")
	}
	hash, err := n.Resolve(ctx, target)
	if err != nil {
		return err
	}
	now := n.now()
	if current, err := n.Store.Refs.GetHead(ctx, n.TractID); err == nil {
		if err := n.Store.Refs.SetRef(ctx, n.TractID, storage.RefOrigHead, current, now); err != nil {
			return tracterr.Wrap(tracterr.KindCommitNotFound, err, "recording ORIG_HEAD")
		}
	} else if err != storage.ErrNotFound {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "reading current HEAD")
	}
	if err := n.Store.Refs.UpdateHead(ctx, n.TractID, hash, now); err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "moving HEAD")
	}
	return nil
}

// Checkout stores current {HEAD, current_branch} as {PREV_HEAD,
// PREV_BRANCH}, then switches to target: a branch name attaches HEAD, a
// commit hash/prefix detaches HEAD, and "-" swaps with the PREV_* pair.
func (n *Navigator) Checkout(ctx context.Context, target string) error {
	now := n.now()

	if target == "-" {
		prevHead, err := n.Store.Refs.GetRef(ctx, n.TractID, storage.RefPrevHead)
		if err != nil {
			if err == storage.ErrNotFound {
				return tracterr.New(tracterr.KindCommitNotFound, "no PREV_HEAD to checkout")
			}
			return tracterr.Wrap(tracterr.KindCommitNotFound, err, "reading PREV_HEAD")
		}
		if _, err := n.Store.Commits.Get(ctx, n.TractID, prevHead); err != nil {
			return tracterr.New(tracterr.KindCommitNotFound, "PREV_HEAD commit no longer exists")
		}
		prevBranch, branchErr := n.Store.Refs.GetSymbolicRef(ctx, n.TractID, storage.RefPrevBranch)

		if err := n.snapshotPrev(ctx, now); err != nil {
			return err
		}
		if branchErr == nil {
			if name, ok := storage.BranchNameFromRef(prevBranch); ok {
				return n.attach(ctx, name, now)
			}
		}
		return n.Store.Refs.DetachHead(ctx, n.TractID, prevHead, now)
	}

	if err := n.snapshotPrev(ctx, now); err != nil {
		return err
	}

	if _, err := n.Store.Refs.GetBranch(ctx, n.TractID, target); err == nil {
		return n.attach(ctx, target, now)
	}

	hash, err := n.Resolve(ctx, target)
	if err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "checkout "+target)
	}
	return n.Store.Refs.DetachHead(ctx, n.TractID, hash, now)
}

func (n *Navigator) attach(ctx context.Context, branch, now string) error {
	if err := n.Store.Refs.AttachHead(ctx, n.TractID, branch, now); err != nil {
		return tracterr.Wrap(tracterr.KindBranchNotFound, err, "attaching HEAD to "+branch)
	}
	return nil
}

// snapshotPrev records {HEAD, current_branch} into {PREV_HEAD, PREV_BRANCH}.
func (n *Navigator) snapshotPrev(ctx context.Context, now string) error {
	head, err := n.Store.Refs.GetHead(ctx, n.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "reading HEAD")
	}
	if err := n.Store.Refs.SetRef(ctx, n.TractID, storage.RefPrevHead, head, now); err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "recording PREV_HEAD")
	}
	branch, attached, err := n.Store.Refs.CurrentBranch(ctx, n.TractID)
	if err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "reading current branch")
	}
	if attached {
		if err := n.Store.Refs.SetSymbolicRef(ctx, n.TractID, storage.RefPrevBranch, storage.BranchRef(branch), now); err != nil {
			return tracterr.Wrap(tracterr.KindCommitNotFound, err, "recording PREV_BRANCH")
		}
	} else {
		if err := n.Store.Refs.DeleteRef(ctx, n.TractID, storage.RefPrevBranch); err != nil {
			return tracterr.Wrap(tracterr.KindCommitNotFound, err, "clearing PREV_BRANCH")
		}
	}
	return nil
}
