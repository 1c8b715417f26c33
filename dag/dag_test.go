package dag

import (
	"context"
	"testing"
)

// fakeLookup is a fixed in-memory parent graph for tests, avoiding a
// storage dependency.
type fakeLookup map[string]struct {
	first string
	extra []string
}

func (f fakeLookup) Parents(_ context.Context, _, commitHash string) (string, []string, error) {
	e := f[commitHash]
	return e.first, e.extra, nil
}

func linear(graph fakeLookup, chain ...string) {
	for i := 1; i < len(chain); i++ {
		e := graph[chain[i]]
		e.first = chain[i-1]
		graph[chain[i]] = e
	}
}

func TestAllAncestors_Linear(t *testing.T) {
	g := fakeLookup{}
	linear(g, "root", "c1", "c2", "c3")

	got, err := AllAncestors(context.Background(), g, "t1", "c3")
	if err != nil {
		t.Fatalf("AllAncestors() error = %v", err)
	}
	for _, h := range []string{"root", "c1", "c2", "c3"} {
		if !got[h] {
			t.Errorf("AllAncestors() missing %q", h)
		}
	}
	if len(got) != 4 {
		t.Errorf("AllAncestors() = %d entries, want 4", len(got))
	}
}

func TestMergeBase_Symmetric(t *testing.T) {
	g := fakeLookup{}
	linear(g, "root", "base", "a1", "a2")
	linear(g, "base", "b1", "b2")

	mb1, err := MergeBase(context.Background(), g, "t1", "a2", "b2")
	if err != nil {
		t.Fatalf("MergeBase() error = %v", err)
	}
	mb2, err := MergeBase(context.Background(), g, "t1", "b2", "a2")
	if err != nil {
		t.Fatalf("MergeBase() error = %v", err)
	}
	if mb1 != "base" || mb2 != "base" {
		t.Errorf("MergeBase() = (%q, %q), want both %q", mb1, mb2, "base")
	}
}

func TestMergeBase_Disjoint(t *testing.T) {
	g := fakeLookup{}
	linear(g, "root1", "a1")
	linear(g, "root2", "b1")

	got, err := MergeBase(context.Background(), g, "t1", "a1", "b1")
	if err != nil {
		t.Fatalf("MergeBase() error = %v", err)
	}
	if got != "" {
		t.Errorf("MergeBase() = %q, want empty for disjoint histories", got)
	}
}

func TestBranchCommits_ChronologicalOrder(t *testing.T) {
	g := fakeLookup{}
	linear(g, "base", "c1", "c2", "c3")

	got, err := BranchCommits(context.Background(), g, "t1", "c3", "base")
	if err != nil {
		t.Fatalf("BranchCommits() error = %v", err)
	}
	want := []string{"c1", "c2", "c3"}
	if len(got) != len(want) {
		t.Fatalf("BranchCommits() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BranchCommits()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsAncestor(t *testing.T) {
	g := fakeLookup{}
	linear(g, "root", "c1", "c2")

	ok, err := IsAncestor(context.Background(), g, "t1", "root", "c2")
	if err != nil {
		t.Fatalf("IsAncestor() error = %v", err)
	}
	if !ok {
		t.Error("IsAncestor(root, c2) = false, want true")
	}

	ok, err = IsAncestor(context.Background(), g, "t1", "c2", "root")
	if err != nil {
		t.Fatalf("IsAncestor() error = %v", err)
	}
	if ok {
		t.Error("IsAncestor(c2, root) = true, want false")
	}
}
