package hooks

import (
	"fmt"
	"testing"
)

type fakeHandle struct {
	calls  []string
	fields map[string]any
}

func (f *fakeHandle) Field(name string) (any, bool) {
	v, ok := f.fields[name]
	return v, ok
}

func (f *fakeHandle) Call(name string, args []any) (any, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%d", name, len(args)))
	switch name {
	case "head":
		return "abc123", nil
	case "annotate":
		return nil, nil
	default:
		return nil, fmt.Errorf("no method %q", name)
	}
}

func TestEvalLiteralsAndComparison(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{`"hello"`, "hello"},
		{`42`, 42.0},
		{`true`, true},
		{`1 == 1`, true},
		{`"a" != "b"`, true},
		{`2 > 1 && 1 < 2`, true},
		{`false || "x" == "x"`, true},
		{`!false`, true},
		{`(1 == 2) || (3 >= 3)`, true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.src, nil)
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.src, err)
		}
		if got != tc.want {
			t.Fatalf("Eval(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestEvalFieldAccessAndMethodCall(t *testing.T) {
	h := &fakeHandle{fields: map[string]any{"id": "t1"}}
	env := map[string]any{"tract": h, "args": map[string]any{"target": "dead"}}

	got, err := Eval(`tract.head()`, env)
	if err != nil || got != "abc123" {
		t.Fatalf("head(): %v, %v", got, err)
	}

	got, err = Eval(`tract.id == "t1" && args.target == "dead"`, env)
	if err != nil || got != true {
		t.Fatalf("field access: %v, %v", got, err)
	}

	if _, err := Eval(`tract.annotate(args.target, "pinned"); tract.head()`, env); err != nil {
		t.Fatalf("statements: %v", err)
	}
	if len(h.calls) != 3 || h.calls[1] != "annotate/2" {
		t.Fatalf("calls = %v", h.calls)
	}
}

func TestEvalErrors(t *testing.T) {
	if _, err := Eval(`unknown_name`, nil); err == nil {
		t.Fatalf("unknown identifier accepted")
	}
	if _, err := Eval(`"unterminated`, nil); err == nil {
		t.Fatalf("unterminated string accepted")
	}
	if _, err := Eval(`1.foo()`, nil); err == nil {
		t.Fatalf("method call on number accepted")
	}
}
