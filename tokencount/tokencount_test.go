package tokencount

import "testing"

func TestNullCounter(t *testing.T) {
	var c NullCounter
	if got := c.CountText("hello"); got != 0 {
		t.Errorf("CountText() = %d, want 0", got)
	}
	if got := c.CountMessages([]Message{{Role: "user", Content: "hi"}}); got != 0 {
		t.Errorf("CountMessages() = %d, want 0", got)
	}
}

func TestNullCounter_EmptyInputs(t *testing.T) {
	var c NullCounter
	if got := c.CountText(""); got != 0 {
		t.Errorf("CountText(\"\") = %d, want 0", got)
	}
	if got := c.CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
}
