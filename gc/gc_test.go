package gc

import (
	"context"
	"fmt"
	"testing"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/compile"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newFixture(t *testing.T) (*storage.Store, *commitengine.Engine, *Engine) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ce := commitengine.New(store, tokencount.NullCounter{}, "t1")
	return store, ce, New(store, "t1")
}

// S6: commits stranded by a force-deleted branch are collected; a second
// run finds nothing; the surviving chain compiles unchanged.
func TestGCRemovesUnreachable(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	base, err := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "keep me"}})
	if err != nil {
		t.Fatalf("base commit: %v", err)
	}

	if err := store.Refs.SetBranch(ctx, "t1", "scratch", base.CommitHash, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("create scratch: %v", err)
	}
	if err := store.Refs.AttachHead(ctx, "t1", "scratch", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach scratch: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ce.Commit(ctx, commitengine.CommitParams{
			Payload: content.Dialogue{Role: content.RoleUser, Text: fmt.Sprintf("scratch %d", i)},
		}); err != nil {
			t.Fatalf("scratch commit: %v", err)
		}
	}
	if err := store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z"); err != nil {
		t.Fatalf("attach main: %v", err)
	}
	if err := store.Refs.DeleteBranch(ctx, "t1", "scratch"); err != nil {
		t.Fatalf("delete scratch: %v", err)
	}

	compiler := compile.New(store, tokencount.NullCounter{}, "t1", 0)
	before, err := compiler.Compile(ctx, compile.Options{})
	if err != nil {
		t.Fatalf("compile before: %v", err)
	}

	plan, err := eng.Plan(ctx, Params{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(plan.Candidates))
	}
	result, err := eng.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.CommitsRemoved != 3 {
		t.Fatalf("commits removed = %d, want 3", result.CommitsRemoved)
	}
	if result.BlobsRemoved != 3 {
		t.Fatalf("blobs removed = %d, want 3", result.BlobsRemoved)
	}
	if result.TokensFreed < 0 {
		t.Fatalf("tokens freed = %d", result.TokensFreed)
	}

	compiler.Invalidate()
	after, err := compiler.Compile(ctx, compile.Options{})
	if err != nil {
		t.Fatalf("compile after: %v", err)
	}
	if len(after.Messages) != len(before.Messages) {
		t.Fatalf("compile changed: %d -> %d messages", len(before.Messages), len(after.Messages))
	}

	// every reachable commit and blob still exists.
	if _, err := store.Commits.Get(ctx, "t1", base.CommitHash); err != nil {
		t.Fatalf("reachable commit deleted: %v", err)
	}
	if _, err := store.Blobs.Get(ctx, base.ContentHash); err != nil {
		t.Fatalf("reachable blob deleted: %v", err)
	}

	second, err := eng.Plan(ctx, Params{})
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if len(second.Candidates) != 0 {
		t.Fatalf("second run found %d candidates, want 0", len(second.Candidates))
	}
}

func TestGCRespectsRetentionWindow(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	base, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "root"}})
	store.Refs.SetBranch(ctx, "t1", "tmp", base.CommitHash, "2024-01-01T00:00:00Z")
	store.Refs.AttachHead(ctx, "t1", "tmp", "2024-01-01T00:00:00Z")
	ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "orphan"}})
	store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z")
	store.Refs.DeleteBranch(ctx, "t1", "tmp")

	// fresh orphans inside a 30-day window are kept.
	plan, err := eng.Plan(ctx, Params{OrphanRetentionDays: 30})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Candidates) != 0 {
		t.Fatalf("candidates = %d, want 0 inside retention window", len(plan.Candidates))
	}
}

func TestGCExclude(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	base, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "root"}})
	store.Refs.SetBranch(ctx, "t1", "tmp", base.CommitHash, "2024-01-01T00:00:00Z")
	store.Refs.AttachHead(ctx, "t1", "tmp", "2024-01-01T00:00:00Z")
	orphan, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "spared"}})
	store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z")
	store.Refs.DeleteBranch(ctx, "t1", "tmp")

	plan, err := eng.Plan(ctx, Params{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	plan.Exclude(orphan.CommitHash)
	result, err := eng.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.CommitsRemoved != 0 {
		t.Fatalf("removed = %d, want 0 after exclude", result.CommitsRemoved)
	}
	if _, err := store.Commits.Get(ctx, "t1", orphan.CommitHash); err != nil {
		t.Fatalf("excluded commit deleted: %v", err)
	}
}
