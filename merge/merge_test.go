package merge

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
	eng := commitengine.New(store, tokencount.NullCounter{}, "t1")
	return store, eng, New(store, eng, "t1")
}

// S3: branch and fast-forward merge.
func TestFastForwardMerge(t *testing.T) {
	ctx := context.Background()
	store, eng, mergeEng := newFixture(t)

	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "hello"}})

	tip, _ := store.Refs.GetHead(ctx, "t1")
	if err := store.Refs.SetBranch(ctx, "t1", "feature", tip, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	if err := store.Refs.AttachHead(ctx, "t1", "feature", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach feature: %v", err)
	}
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "more"}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "response"}})

	if err := store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z"); err != nil {
		t.Fatalf("attach main: %v", err)
	}

	plan, err := mergeEng.Plan(ctx, "main", "feature", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Type != TypeFastForward {
		t.Fatalf("plan type = %q, want fast_forward", plan.Type)
	}
	result, err := mergeEng.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Type != TypeFastForward {
		t.Fatalf("result type = %q, want fast_forward", result.Type)
	}

	mainTip, err := store.Refs.GetBranch(ctx, "t1", "main")
	if err != nil {
		t.Fatalf("main tip: %v", err)
	}
	featureTip, _ := store.Refs.GetBranch(ctx, "t1", "feature")
	if mainTip != featureTip {
		t.Fatalf("main tip %s != feature tip %s after fast-forward", mainTip, featureTip)
	}
}

// S4: both_edit conflict with resolution.
func TestBothEditConflict(t *testing.T) {
	ctx := context.Background()
	store, eng, mergeEng := newFixture(t)

	base, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "original"}})
	if err != nil {
		t.Fatalf("base commit: %v", err)
	}
	if err := store.Refs.SetBranch(ctx, "t1", "b", base.CommitHash, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("create branch b: %v", err)
	}
	if err := store.Refs.AttachHead(ctx, "t1", "b", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	if _, err := eng.Commit(ctx, commitengine.CommitParams{
		Payload: content.Dialogue{Role: content.RoleUser, Text: "A"}, Operation: "edit", EditTarget: base.CommitHash,
	}); err != nil {
		t.Fatalf("edit on b: %v", err)
	}

	if err := store.Refs.AttachHead(ctx, "t1", "main", "2024-01-01T00:00:01Z"); err != nil {
		t.Fatalf("attach main: %v", err)
	}
	if _, err := eng.Commit(ctx, commitengine.CommitParams{
		Payload: content.Dialogue{Role: content.RoleUser, Text: "B"}, Operation: "edit", EditTarget: base.CommitHash,
	}); err != nil {
		t.Fatalf("edit on main: %v", err)
	}

	plan, err := mergeEng.Plan(ctx, "main", "b", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Type != TypeConflict {
		t.Fatalf("plan type = %q, want conflict", plan.Type)
	}
	if len(plan.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(plan.Conflicts))
	}
	c := plan.Conflicts[0]
	if c.Kind != ConflictBothEdit {
		t.Fatalf("conflict kind = %q, want both_edit", c.Kind)
	}
	if c.SideAText != "B" || c.SideBText != "A" {
		t.Fatalf("conflict texts = (%q, %q), want (B, A)", c.SideAText, c.SideBText)
	}

	result, err := mergeEng.Resolve(ctx, plan, map[string]string{c.Target: "A and B"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Type != TypeConflict {
		t.Fatalf("result type = %q, want conflict", result.Type)
	}
}
