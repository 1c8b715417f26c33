package compile

import (
	"context"
	"testing"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newFixture(t *testing.T) (*storage.Store, *commitengine.Engine, *Compiler) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	eng := commitengine.New(store, tokencount.NullCounter{}, "t1")
	c := New(store, tokencount.NullCounter{}, "t1", 16)
	return store, eng, c
}

// S1: Instruction + dialogue round-trip.
func TestCompileS1InstructionDialogueRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, eng, comp := newFixture(t)

	if _, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "You are helpful."}}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	if _, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "Hi"}}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	if _, err := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "Hello!"}}); err != nil {
		t.Fatalf("commit 3: %v", err)
	}

	out, err := comp.Compile(ctx, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if out.CommitCount != 3 {
		t.Fatalf("commit count = %d, want 3", out.CommitCount)
	}
	wantRoles := []string{"system", "user", "assistant"}
	wantContents := []string{"You are helpful.", "Hi", "Hello!"}
	for i, m := range out.Messages {
		if m.Role != wantRoles[i] || m.Content != wantContents[i] {
			t.Errorf("message %d = (%s, %q), want (%s, %q)", i, m.Role, m.Content, wantRoles[i], wantContents[i])
		}
	}
}

// S2: Edit replaces on compile.
func TestCompileS2EditReplaces(t *testing.T) {
	ctx := context.Background()
	_, eng, comp := newFixture(t)

	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "You are helpful."}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "Hi"}})
	c3, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "Hi there!"}})
	_ = c3

	h3, err := comp.Store.Refs.GetHead(ctx, "t1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := eng.Commit(ctx, commitengine.CommitParams{
		Payload: content.Dialogue{Role: content.RoleAssistant, Text: "Hi there!!"}, Operation: "edit", EditTarget: h3,
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	out, err := comp.Compile(ctx, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if out.CommitCount != 3 {
		t.Fatalf("commit count = %d, want 3", out.CommitCount)
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Content != "Hi there!!" {
		t.Fatalf("last content = %q, want edited text", last.Content)
	}
}

func TestCompileSkipsReasoningByDefault(t *testing.T) {
	ctx := context.Background()
	_, eng, comp := newFixture(t)
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Reasoning{Text: "thinking..."}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "answer"}})

	out, err := comp.Compile(ctx, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if out.CommitCount != 2 {
		t.Fatalf("commit count = %d, want 2 (reasoning skipped)", out.CommitCount)
	}

	out2, err := comp.Compile(ctx, Options{IncludeReasoning: true})
	if err != nil {
		t.Fatalf("compile include_reasoning: %v", err)
	}
	if out2.CommitCount != 3 {
		t.Fatalf("commit count with include_reasoning = %d, want 3", out2.CommitCount)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	ctx := context.Background()
	_, eng, comp := newFixture(t)
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})

	a, err := comp.Compile(ctx, Options{})
	if err != nil {
		t.Fatalf("compile 1: %v", err)
	}
	b, err := comp.Compile(ctx, Options{})
	if err != nil {
		t.Fatalf("compile 2: %v", err)
	}
	if a.TokenCount != b.TokenCount || len(a.Messages) != len(b.Messages) {
		t.Fatalf("compile not deterministic: %+v vs %+v", a, b)
	}
}

func TestCompileAtCommitMatchesHistoricalHead(t *testing.T) {
	ctx := context.Background()
	_, eng, comp := newFixture(t)
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	c2, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})

	atC2, err := comp.Compile(ctx, Options{AtCommit: c2.CommitHash})
	if err != nil {
		t.Fatalf("compile at c2: %v", err)
	}

	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "there"}})
	comp.Invalidate()

	stillAtC2, err := comp.Compile(ctx, Options{AtCommit: c2.CommitHash})
	if err != nil {
		t.Fatalf("compile at c2 again: %v", err)
	}
	if len(atC2.Messages) != len(stillAtC2.Messages) {
		t.Fatalf("at_commit compile changed after later writes: %d vs %d", len(atC2.Messages), len(stillAtC2.Messages))
	}
}
