package content

import "testing"

func TestCanonicalJSON_KeyOrderInsensitive(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	b, err := CanonicalJSON(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("CanonicalJSON() not order-insensitive: %q != %q", a, b)
	}
	want := `{"a":1,"b":2}`
	if string(a) != want {
		t.Errorf("CanonicalJSON() = %q, want %q", a, want)
	}
}

func TestCanonicalJSON_NoEscapedUnicode(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"text": "héllo 世界"})
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	want := `{"text":"héllo 世界"}`
	if string(out) != want {
		t.Errorf("CanonicalJSON() = %q, want %q", out, want)
	}
}

func TestCanonicalJSON_IntegerNotFloat(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"n": 42})
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	want := `{"n":42}`
	if string(out) != want {
		t.Errorf("CanonicalJSON() = %q, want %q", out, want)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	h1, err := ContentHash(map[string]any{"content_type": "instruction", "text": "hi"})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	h2, err := ContentHash(map[string]any{"text": "hi", "content_type": "instruction"})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("ContentHash() not order-insensitive: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("ContentHash() length = %d, want 64", len(h1))
	}
}

func TestCommitHash_OmitsEmptyReplyTo(t *testing.T) {
	withEmpty, err := CommitHash(CommitHashInput{
		ContentHash:  "abc",
		ContentType:  "instruction",
		Operation:    "append",
		TimestampISO: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("CommitHash() error = %v", err)
	}

	// Build the same input but manually include a null reply_to; the two
	// must NOT match, proving the field is omitted rather than null.
	d := map[string]any{
		"content_hash":  "abc",
		"parent_hash":   nil,
		"content_type":  "instruction",
		"operation":     "append",
		"timestamp_iso": "2026-01-01T00:00:00Z",
		"reply_to":      nil,
	}
	canon, err := CanonicalJSON(d)
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if string(canon) == "" {
		t.Fatal("unexpected empty canonical JSON")
	}
	withNull, err := ContentHash(d)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if withNull == withEmpty {
		t.Error("CommitHash() matches a hash with reply_to: null; the field must be omitted")
	}

	withTarget, err := CommitHash(CommitHashInput{
		ContentHash:  "abc",
		ContentType:  "instruction",
		Operation:    "edit",
		TimestampISO: "2026-01-01T00:00:00Z",
		ReplyTo:      "deadbeef",
	})
	if err != nil {
		t.Fatalf("CommitHash() error = %v", err)
	}
	if withEmpty == withTarget {
		t.Error("CommitHash() did not change when reply_to was added")
	}
}

func TestCommitHash_Deterministic(t *testing.T) {
	in := CommitHashInput{
		ContentHash:  "abc123",
		ParentHash:   "def456",
		ContentType:  "dialogue",
		Operation:    "append",
		TimestampISO: "2026-01-01T00:00:00Z",
	}
	h1, err := CommitHash(in)
	if err != nil {
		t.Fatalf("CommitHash() error = %v", err)
	}
	h2, err := CommitHash(in)
	if err != nil {
		t.Fatalf("CommitHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("CommitHash() not deterministic: %q != %q", h1, h2)
	}
}
