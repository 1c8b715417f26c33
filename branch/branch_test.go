package branch

import (
	"context"
	"testing"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
)

func newFixture(t *testing.T) (*storage.Store, *commitengine.Engine, *Manager) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	eng := commitengine.New(store, tokencount.NullCounter{}, "t1")
	return store, eng, New(store, "t1")
}

func TestValidateNameRejectsBadNames(t *testing.T) {
	bad := []string{"", "has space", "a..b", "a//b", ".dot", "dot.", "/slash", "slash/", "lock.lock", "a~b", "a^b", "a:b"}
	for _, name := range bad {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
	if err := ValidateName("feature/thing"); err != nil {
		t.Errorf("ValidateName(feature/thing) = %v, want nil", err)
	}
}

func TestCreateFailsIfExists(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)
	c1, _ := eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	_ = c1
	if err := mgr.Create(ctx, "feature", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Create(ctx, "feature", ""); err == nil {
		t.Fatal("create duplicate branch: want error, got nil")
	}
}

func TestDeleteRefusesCurrentAndUnmerged(t *testing.T) {
	ctx := context.Background()
	store, eng, mgr := newFixture(t)
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: "sys"}})
	if err := mgr.Create(ctx, "feature", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Delete(ctx, "main", true); err == nil {
		t.Fatal("delete current branch: want error")
	}
	if err := store.Refs.AttachHead(ctx, "t1", "feature", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// now feature is current; main has the same tip, so it counts as merged.
	mainTip, _ := store.Refs.GetBranch(ctx, "t1", "main")
	_ = mainTip
	if err := mgr.Delete(ctx, "main", false); err != nil {
		t.Fatalf("delete identical-tip branch without force: %v", err)
	}

	// a branch with a commit that feature doesn't have is unmerged.
	if err := mgr.Create(ctx, "side", ""); err != nil {
		t.Fatalf("create side: %v", err)
	}
	if err := store.Refs.AttachHead(ctx, "t1", "side", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach side: %v", err)
	}
	eng.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: "side only"}})
	if err := store.Refs.AttachHead(ctx, "t1", "feature", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("attach feature: %v", err)
	}
	if err := mgr.Delete(ctx, "side", false); err == nil {
		t.Fatal("delete unmerged branch without force: want error")
	}
}
