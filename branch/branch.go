// Package branch implements branch create/delete/list and name
// validation, sharing the git-shaped vocabulary of the nav package.
package branch

import (
	"context"
	"strings"
	"time"

	"github.com/tractvcs/tract/dag"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Manager owns branch CRUD for one tract.
type Manager struct {
	Store   *storage.Store
	TractID string
	Lookup  dag.ParentLookup
	Now     func() time.Time
}

func New(store *storage.Store, tractID string) *Manager {
	return &Manager{Store: store, TractID: tractID, Lookup: dag.StoreLookup{Store: store}, Now: time.Now}
}

func (m *Manager) now() string { return m.Now().UTC().Format(time.RFC3339Nano) }

// ValidateName enforces the branch-name rules: no whitespace or
// metacharacters, no "..", no "//", no leading/trailing "." or "/", no
// ".lock" suffix.
func ValidateName(name string) error {
	if name == "" {
		return tracterr.New(tracterr.KindInvalidBranchName, "branch name must not be empty")
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q contains a forbidden character", name)
	}
	if strings.Contains(name, "..") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q contains '..'", name)
	}
	if strings.Contains(name, "//") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q contains '//'", name)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q must not start or end with '.'", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q must not start or end with '/'", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return tracterr.Newf(tracterr.KindInvalidBranchName, "branch name %q must not end with '.lock'", name)
	}
	return nil
}

// Create creates a new branch from startPoint (defaults to HEAD when
// empty), failing with BranchExists if the ref already exists.
func (m *Manager) Create(ctx context.Context, name, startPoint string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := m.Store.Refs.GetBranch(ctx, m.TractID, name); err == nil {
		return tracterr.Newf(tracterr.KindBranchExists, "branch %q already exists", name)
	} else if err != storage.ErrNotFound {
		return tracterr.Wrap(tracterr.KindBranchNotFound, err, "checking branch existence")
	}

	var hash string
	var err error
	if startPoint == "" {
		hash, err = m.Store.Refs.GetHead(ctx, m.TractID)
	} else {
		hash, err = resolveStartPoint(ctx, m.Store, m.TractID, startPoint)
	}
	if err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving start point")
	}

	return m.Store.Refs.SetBranch(ctx, m.TractID, name, hash, m.now())
}

func resolveStartPoint(ctx context.Context, store *storage.Store, tractID, ref string) (string, error) {
	if c, err := store.Commits.Get(ctx, tractID, ref); err == nil {
		return c.CommitHash, nil
	}
	if hash, err := store.Refs.GetBranch(ctx, tractID, ref); err == nil {
		return hash, nil
	}
	if len(ref) >= 4 {
		if c, err := store.Commits.ByPrefix(ctx, tractID, ref); err == nil {
			return c.CommitHash, nil
		}
	}
	return "", tracterr.Newf(tracterr.KindCommitNotFound, "no commit or branch matches %q", ref)
}

// Delete removes branch name, refusing the current branch, and refusing
// an unmerged branch (tip not reachable from the current branch) unless
// force=true.
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	current, attached, err := m.Store.Refs.CurrentBranch(ctx, m.TractID)
	if err != nil {
		return tracterr.Wrap(tracterr.KindBranchNotFound, err, "reading current branch")
	}
	if attached && current == name {
		return tracterr.Newf(tracterr.KindUnmergedBranch, "cannot delete the current branch %q", name)
	}

	tip, err := m.Store.Refs.GetBranch(ctx, m.TractID, name)
	if err != nil {
		if err == storage.ErrNotFound {
			return tracterr.Newf(tracterr.KindBranchNotFound, "branch %q does not exist", name)
		}
		return tracterr.Wrap(tracterr.KindBranchNotFound, err, "looking up branch "+name)
	}

	if !force {
		currentTip, err := m.Store.Refs.GetHead(ctx, m.TractID)
		if err != nil && err != storage.ErrNotFound {
			return tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
		}
		merged := currentTip != "" && func() bool {
			ok, err := dag.IsAncestor(ctx, m.Lookup, m.TractID, tip, currentTip)
			return err == nil && ok
		}()
		if !merged {
			return tracterr.Newf(tracterr.KindUnmergedBranch, "branch %q is not fully merged; use force to delete anyway", name)
		}
	}

	return m.Store.Refs.DeleteBranch(ctx, m.TractID, name)
}

// List returns every branch name in the tract, sorted.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.Store.Refs.ListBranches(ctx, m.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "listing branches")
	}
	return names, nil
}
