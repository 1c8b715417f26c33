package annotate

import (
	"context"
	"testing"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newFixture(t *testing.T) (*commitengine.Engine, *Engine) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return commitengine.New(store, tokencount.NullCounter{}, "t1"), New(store, "t1")
}

func TestLatestWinsOverOlderAnnotation(t *testing.T) {
	ctx := context.Background()
	eng, ann := newFixture(t)
	c, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})

	if err := ann.Annotate(ctx, c.CommitHash, content.PriorityImportant, "first", nil); err != nil {
		t.Fatalf("annotate 1: %v", err)
	}
	if err := ann.Annotate(ctx, c.CommitHash, content.PriorityPinned, "second", nil); err != nil {
		t.Fatalf("annotate 2: %v", err)
	}
	p, _, err := ann.Latest(ctx, c.CommitHash)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p != content.PriorityPinned {
		t.Fatalf("latest priority = %q, want pinned", p)
	}
}

func TestDefaultPriorityFallsBackByContentType(t *testing.T) {
	ctx := context.Background()
	eng, ann := newFixture(t)
	instr, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	reasoning, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Reasoning{Text: "thinking"}})

	p, _, err := ann.Latest(ctx, instr.CommitHash)
	if err != nil || p != content.PriorityPinned {
		t.Fatalf("instruction default = %q, %v; want pinned", p, err)
	}
	p, _, err = ann.Latest(ctx, reasoning.CommitHash)
	if err != nil || p != content.PrioritySkip {
		t.Fatalf("reasoning default = %q, %v; want skip", p, err)
	}
}

func TestRetentionOnlyKeptForImportant(t *testing.T) {
	ctx := context.Background()
	eng, ann := newFixture(t)
	c, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "42 widgets shipped"}})

	ret := &Retention{Instructions: "keep the widget count", Patterns: []RetentionPattern{{Pattern: "42 widgets", Mode: "literal"}}}
	if err := ann.Annotate(ctx, c.CommitHash, content.PriorityImportant, "", ret); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	_, gotRet, err := ann.Latest(ctx, c.CommitHash)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if gotRet == nil || len(gotRet.Patterns) != 1 || gotRet.Patterns[0].Pattern != "42 widgets" {
		t.Fatalf("retention = %+v, want 42 widgets pattern", gotRet)
	}

	if err := ann.Annotate(ctx, c.CommitHash, content.PriorityNormal, "", ret); err != nil {
		t.Fatalf("re-annotate normal: %v", err)
	}
	_, gotRet2, err := ann.Latest(ctx, c.CommitHash)
	if err != nil {
		t.Fatalf("latest 2: %v", err)
	}
	if gotRet2 != nil {
		t.Fatalf("retention leaked onto normal priority: %+v", gotRet2)
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	eng, ann := newFixture(t)
	c1, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "a"}})
	c2, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "b"}})
	ann.Annotate(ctx, c1.CommitHash, content.PriorityPinned, "", nil)
	ann.Annotate(ctx, c2.CommitHash, content.PrioritySkip, "", nil)

	counts, err := ann.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["pinned"] != 1 || counts["skip"] != 1 {
		t.Fatalf("counts = %+v, want pinned=1 skip=1", counts)
	}
}
