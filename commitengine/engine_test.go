package commitengine

import (
	"context"
	"testing"
	"time"

	"github.com/tractvcs/tract/config"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e := New(store, tokencount.NullCounter{}, "tract1")
	e.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestCommit_RootHasEmptyParent(t *testing.T) {
	e := newTestEngine(t)
	c, err := e.Commit(context.Background(), CommitParams{Payload: content.Instruction{Text: "You are helpful."}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if c.ParentHash != "" {
		t.Errorf("ParentHash = %q, want empty for root commit", c.ParentHash)
	}
	if len(c.CommitHash) != 64 {
		t.Errorf("CommitHash length = %d, want 64", len(c.CommitHash))
	}
}

func TestCommit_ChainsParents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	c1, err := e.Commit(ctx, CommitParams{Payload: content.Instruction{Text: "sys"}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	c2, err := e.Commit(ctx, CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "hi"}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if c2.ParentHash != c1.CommitHash {
		t.Errorf("c2.ParentHash = %q, want %q", c2.ParentHash, c1.CommitHash)
	}
}

func TestCommit_EditRequiresAppendTarget(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	c1, _ := e.Commit(ctx, CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: "Hi!"}})
	edit, err := e.Commit(ctx, CommitParams{
		Payload:    content.Dialogue{Role: content.RoleAssistant, Text: "Hi there!"},
		Operation:  OperationEdit,
		EditTarget: c1.CommitHash,
	})
	if err != nil {
		t.Fatalf("Commit(edit) error = %v", err)
	}
	if edit.EditTarget != c1.CommitHash {
		t.Errorf("EditTarget = %q, want %q", edit.EditTarget, c1.CommitHash)
	}

	if _, err := e.Commit(ctx, CommitParams{
		Payload:    content.Dialogue{Role: content.RoleAssistant, Text: "Hi again!"},
		Operation:  OperationEdit,
		EditTarget: edit.CommitHash,
	}); err == nil {
		t.Error("Commit(edit of edit) succeeded, want EditTarget error")
	}
}

func TestCommit_ContentValidationFailure(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Commit(context.Background(), CommitParams{Payload: content.Instruction{Text: ""}})
	if err == nil {
		t.Fatal("Commit() with empty instruction text succeeded, want ContentValidation error")
	}
}

func TestCommit_BudgetReject(t *testing.T) {
	e := newTestEngine(t)
	e.Counter = fixedCounter{n: 100}
	e.Budget = &config.TokenBudgetConfig{Max: 10, Action: config.BudgetReject}
	_, err := e.Commit(context.Background(), CommitParams{Payload: content.Instruction{Text: "hello"}})
	if err == nil {
		t.Fatal("Commit() over budget succeeded, want BudgetExceeded error")
	}
}

type fixedCounter struct{ n int }

func (f fixedCounter) CountText(string) int                 { return f.n }
func (f fixedCounter) CountMessages([]tokencount.Message) int { return f.n }
func (f fixedCounter) Identity() string                      { return "fixed" }
