// Package dag implements ancestor/merge-base/reachability traversal over
// the commit graph stored by the storage package, walking first parents
// plus the extra-parents table merge commits carry.
package dag

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/storage"
)

// ParentLookup resolves a commit's first parent and any extra (merge)
// parents; it is the only storage dependency dag needs, letting callers
// pass either live repos or an in-memory fixture in tests.
type ParentLookup interface {
	Parents(ctx context.Context, tractID, commitHash string) (first string, extra []string, err error)
}

// StoreLookup adapts a *storage.Store to ParentLookup.
type StoreLookup struct {
	Store *storage.Store
}

func (l StoreLookup) Parents(ctx context.Context, tractID, commitHash string) (string, []string, error) {
	c, err := l.Store.Commits.Get(ctx, tractID, commitHash)
	if err != nil {
		return "", nil, err
	}
	extra, err := l.Store.CommitParents.Get(ctx, tractID, commitHash)
	if err != nil {
		return "", nil, err
	}
	return c.ParentHash, extra, nil
}

// AllAncestors returns the set of commit hashes reachable from h by
// walking parent_hash and commit_parents, including h itself. Traversal
// uses a visited set so it terminates even over corrupted cyclic data.
func AllAncestors(ctx context.Context, lookup ParentLookup, tractID, h string) (map[string]bool, error) {
	visited := map[string]bool{}
	queue := []string{h}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == "" || visited[cur] {
			continue
		}
		visited[cur] = true
		first, extra, err := lookup.Parents(ctx, tractID, cur)
		if err != nil {
			return nil, fmt.Errorf("dag: ancestors of %s: %w", h, err)
		}
		if first != "" && !visited[first] {
			queue = append(queue, first)
		}
		for _, p := range extra {
			if p != "" && !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	return visited, nil
}

// MergeBase returns the best common ancestor of a and b: the first commit
// reached by a breadth-first walk from b that already belongs to
// ancestors(a). Returns "", nil if a and b share no ancestor.
// When a and b have a single best common ancestor (always the case for
// first-parent-only histories), merge_base(a,b) == merge_base(b,a). When
// merge parents give them several unrelated best common ancestors, the
// one returned is the first the BFS from b reaches, so it can differ
// with argument order.
func MergeBase(ctx context.Context, lookup ParentLookup, tractID, a, b string) (string, error) {
	ancestorsA, err := AllAncestors(ctx, lookup, tractID, a)
	if err != nil {
		return "", err
	}
	if ancestorsA[b] {
		return b, nil
	}
	visited := map[string]bool{}
	queue := []string{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == "" || visited[cur] {
			continue
		}
		visited[cur] = true
		if ancestorsA[cur] {
			return cur, nil
		}
		first, extra, err := lookup.Parents(ctx, tractID, cur)
		if err != nil {
			return "", fmt.Errorf("dag: merge base of %s, %s: %w", a, b, err)
		}
		if first != "" && !visited[first] {
			queue = append(queue, first)
		}
		for _, p := range extra {
			if p != "" && !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	return "", nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func IsAncestor(ctx context.Context, lookup ParentLookup, tractID, a, b string) (bool, error) {
	ancestors, err := AllAncestors(ctx, lookup, tractID, b)
	if err != nil {
		return false, err
	}
	return ancestors[a], nil
}

// BranchCommits walks tip backwards along first-parent only, stopping
// at (and excluding) base, returning the commits in chronological
// (root-first) order.
func BranchCommits(ctx context.Context, lookup ParentLookup, tractID, tip, base string) ([]string, error) {
	var reversed []string
	cur := tip
	visited := map[string]bool{}
	for cur != "" && cur != base {
		if visited[cur] {
			return nil, fmt.Errorf("dag: cycle detected walking from %s to %s", tip, base)
		}
		visited[cur] = true
		reversed = append(reversed, cur)
		first, _, err := lookup.Parents(ctx, tractID, cur)
		if err != nil {
			return nil, fmt.Errorf("dag: branch commits %s..%s: %w", base, tip, err)
		}
		cur = first
	}
	out := make([]string, len(reversed))
	for i, h := range reversed {
		out[len(reversed)-1-i] = h
	}
	return out, nil
}
