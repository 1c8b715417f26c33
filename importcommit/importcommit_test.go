package importcommit

import (
	"context"
	"testing"

	"github.com/tractvcs/tract/commitengine"
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
	return store, ce, New(store, ce, "t1")
}

func TestCherryPickKeepsContentHash(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	base, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "base"}})
	store.Refs.SetBranch(ctx, "t1", "side", base.CommitHash, "2024-01-01T00:00:00Z")
	store.Refs.AttachHead(ctx, "t1", "side", "2024-01-01T00:00:00Z")
	picked, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "pick me"}})
	store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z")

	result, err := eng.CherryPick(ctx, picked.CommitHash)
	if err != nil {
		t.Fatalf("cherry-pick: %v", err)
	}
	if result.NewCommit.ContentHash != picked.ContentHash {
		t.Fatalf("content hash changed: %s -> %s", picked.ContentHash, result.NewCommit.ContentHash)
	}
	if result.NewCommit.CommitHash == picked.CommitHash {
		t.Fatalf("commit hash unchanged after cherry-pick")
	}
	if result.NewCommit.ParentHash != base.CommitHash {
		t.Fatalf("parent = %s, want %s", result.NewCommit.ParentHash, base.CommitHash)
	}
	if len(result.Issues) != 0 {
		t.Fatalf("issues = %+v, want none", result.Issues)
	}
}

func TestCherryPickMissingCommit(t *testing.T) {
	ctx := context.Background()
	_, _, eng := newFixture(t)
	if _, err := eng.CherryPick(ctx, "0000000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Fatalf("missing commit accepted")
	}
}

// Importing an edit whose target lives on another branch degrades to an
// append with a warning.
func TestCherryPickEditWithoutTarget(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	mainBase, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "main base"}})
	store.Refs.SetBranch(ctx, "t1", "side", mainBase.CommitHash, "2024-01-01T00:00:00Z")
	store.Refs.AttachHead(ctx, "t1", "side", "2024-01-01T00:00:00Z")
	sideTarget, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "side target"}})
	edit, err := ce.Commit(ctx, commitengine.CommitParams{
		Payload: content.Dialogue{Role: content.RoleUser, Text: "edited"}, Operation: "edit", EditTarget: sideTarget.CommitHash,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	// detach main's HEAD at the base so the side target is unreachable.
	store.Refs.DetachHead(ctx, "t1", mainBase.CommitHash, "2024-01-01T00:00:01Z")

	result, err := eng.CherryPick(ctx, edit.CommitHash)
	if err != nil {
		t.Fatalf("cherry-pick: %v", err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %+v, want 1", result.Issues)
	}
	if result.NewCommit.Operation != "append" {
		t.Fatalf("operation = %q, want append fallback", result.NewCommit.Operation)
	}
}

// Importing a tool result without its call flags an issue but proceeds.
func TestCherryPickToolResultWithoutCall(t *testing.T) {
	ctx := context.Background()
	store, ce, eng := newFixture(t)

	base, _ := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "base"}})
	store.Refs.SetBranch(ctx, "t1", "side", base.CommitHash, "2024-01-01T00:00:00Z")
	store.Refs.AttachHead(ctx, "t1", "side", "2024-01-01T00:00:00Z")
	toolResult, err := ce.Commit(ctx, commitengine.CommitParams{Payload: content.ToolIo{
		Role: content.ToolResultRole, Name: "search", Result: "found 3 hits", ToolCallID: "call-9",
	}})
	if err != nil {
		t.Fatalf("tool result commit: %v", err)
	}
	store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z")

	result, err := eng.CherryPick(ctx, toolResult.CommitHash)
	if err != nil {
		t.Fatalf("cherry-pick: %v", err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %+v, want the missing-call warning", result.Issues)
	}
}
