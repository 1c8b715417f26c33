package storage

import (
	"context"
	"errors"
	"testing"
)

var errBoom = errors.New("boom")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlobRepo_CreateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := Blob{ContentHash: "abc123", PayloadJSON: []byte(`{"content_type":"instruction"}`), ByteSize: 10, CreatedAt: "2026-01-01T00:00:00Z"}
	if err := s.Blobs.Create(ctx, b); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := s.Blobs.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ContentHash != b.ContentHash || got.ByteSize != b.ByteSize {
		t.Errorf("Get() = %+v, want matching %+v", got, b)
	}

	// Creating the same content_hash again must not error (dedup).
	if err := s.Blobs.Create(ctx, b); err != nil {
		t.Errorf("Create() duplicate error = %v, want nil", err)
	}
}

func TestBlobRepo_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Blobs.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRefRepo_HeadLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	attached, err := s.Refs.IsHeadAttached(ctx, "t1")
	if err != nil {
		t.Fatalf("IsHeadAttached() error = %v", err)
	}
	if !attached {
		t.Errorf("IsHeadAttached() = false before any commit, want true")
	}

	if err := s.Refs.UpdateHead(ctx, "t1", "hash1", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("UpdateHead() error = %v", err)
	}
	head, err := s.Refs.GetHead(ctx, "t1")
	if err != nil {
		t.Fatalf("GetHead() error = %v", err)
	}
	if head != "hash1" {
		t.Errorf("GetHead() = %q, want hash1", head)
	}

	branch, attachedBranch, err := s.Refs.CurrentBranch(ctx, "t1")
	if err != nil {
		t.Fatalf("CurrentBranch() error = %v", err)
	}
	if !attachedBranch || branch != DefaultBranch {
		t.Errorf("CurrentBranch() = (%q, %v), want (%q, true)", branch, attachedBranch, DefaultBranch)
	}

	if err := s.Refs.DetachHead(ctx, "t1", "hash0", "2026-01-01T00:00:01Z"); err != nil {
		t.Fatalf("DetachHead() error = %v", err)
	}
	attached, err = s.Refs.IsHeadAttached(ctx, "t1")
	if err != nil {
		t.Fatalf("IsHeadAttached() error = %v", err)
	}
	if attached {
		t.Error("IsHeadAttached() = true after DetachHead, want false")
	}
}

func TestAnnotationRepo_LatestWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Annotations.Append(ctx, Annotation{TractID: "t1", TargetHash: "h1", Priority: "normal", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Annotations.Append(ctx, Annotation{TractID: "t1", TargetHash: "h1", Priority: "pinned", CreatedAt: "2026-01-01T00:00:01Z"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	latest, err := s.Annotations.Latest(ctx, "t1", "h1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Priority != "pinned" {
		t.Errorf("Latest().Priority = %q, want pinned", latest.Priority)
	}
}

func TestStore_BatchRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wantErr := errBoom

	err := s.Batch(ctx, func(tx *Store) error {
		if err := tx.Blobs.Create(ctx, Blob{ContentHash: "will-roll-back", PayloadJSON: []byte("{}"), CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Batch() error = %v, want %v", err, wantErr)
	}
	if _, err := s.Blobs.Get(ctx, "will-roll-back"); err != ErrNotFound {
		t.Errorf("Get() after rolled-back batch = %v, want ErrNotFound", err)
	}
}
