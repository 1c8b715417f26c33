package nav

import (
	"context"
	"testing"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newTestEngine(t *testing.T) (*storage.Store, *commitengine.Engine) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	eng := commitengine.New(store, tokencount.NullCounter{}, "t1")
	return store, eng
}

func TestResetRoundTripsOrigHead(t *testing.T) {
	ctx := context.Background()
	store, eng := newTestEngine(t)
	c1, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	c2, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	n := New(store, "t1")
	if err := n.Reset(ctx, c1.CommitHash, ResetHard, true); err != nil {
		t.Fatalf("reset: %v", err)
	}
	head, err := store.Refs.GetHead(ctx, "t1")
	if err != nil || head != c1.CommitHash {
		t.Fatalf("head after reset = %q, %v; want %q", head, err, c1.CommitHash)
	}
	orig, err := store.Refs.GetRef(ctx, "t1", storage.RefOrigHead)
	if err != nil || orig != c2.CommitHash {
		t.Fatalf("ORIG_HEAD = %q, %v; want %q", orig, err, c2.CommitHash)
	}
}

func TestCheckoutDashSwapsBack(t *testing.T) {
	ctx := context.Background()
	store, eng := newTestEngine(t)
	c1, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	if err := store.Refs.SetBranch(ctx, "t1", "feature", c1.CommitHash, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("set branch: %v", err)
	}

	n := New(store, "t1")
	if err := n.Checkout(ctx, "feature"); err != nil {
		t.Fatalf("checkout feature: %v", err)
	}
	branch, attached, err := store.Refs.CurrentBranch(ctx, "t1")
	if err != nil || !attached || branch != "feature" {
		t.Fatalf("current branch = %q attached=%v err=%v", branch, attached, err)
	}
	if err := n.Checkout(ctx, "-"); err != nil {
		t.Fatalf("checkout -: %v", err)
	}
	branch, attached, err = store.Refs.CurrentBranch(ctx, "t1")
	if err != nil || !attached || branch != "main" {
		t.Fatalf("current branch after checkout - = %q attached=%v err=%v", branch, attached, err)
	}
}

func TestResolvePrefix(t *testing.T) {
	ctx := context.Background()
	store, eng := newTestEngine(t)
	c1, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})

	n := New(store, "t1")
	hash, err := n.Resolve(ctx, c1.CommitHash[:8])
	if err != nil {
		t.Fatalf("resolve prefix: %v", err)
	}
	if hash != c1.CommitHash {
		t.Fatalf("resolve prefix = %q, want %q", hash, c1.CommitHash)
	}
}
