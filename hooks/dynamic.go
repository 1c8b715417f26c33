package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Built-in hookable operation names. A dynamic spec may not shadow them.
const (
	OpCompress   = "compress"
	OpGC         = "gc"
	OpRebase     = "rebase"
	OpMerge      = "merge"
	OpToolResult = "tool_result"
	OpPolicy     = "policy"
	OpTrigger    = "trigger"
)

var builtinOps = map[string]bool{
	OpCompress: true, OpGC: true, OpRebase: true, OpMerge: true,
	OpToolResult: true, OpPolicy: true, OpTrigger: true,
}

// ActionSpec describes one action a dynamic operation exposes. Code is
// evaluated by the embedded expression language with the environment
// {pending, tract, args}; it cannot import anything or reach beyond the
// provided handles.
type ActionSpec struct {
	Name     string   `json:"name"`
	Doc      string   `json:"description,omitempty"`
	Params   []string `json:"params,omitempty"`
	Required []string `json:"required,omitempty"`
	Code     string   `json:"code"`
}

// OperationSpec is a host-registered operation definition. Specs persist
// as JSON under <db-dir>/.tract/operations/<name>.json and are reloaded
// at open time.
type OperationSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Actions     []ActionSpec   `json:"actions,omitempty"`
}

// Validate checks a spec before registration.
func (s *OperationSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("hooks: operation spec needs a name")
	}
	if builtinOps[s.Name] {
		return fmt.Errorf("hooks: %q conflicts with a built-in operation", s.Name)
	}
	if strings.ContainsAny(s.Name, "/\\ ") {
		return fmt.Errorf("hooks: operation name %q contains forbidden characters", s.Name)
	}
	seen := map[string]bool{}
	for _, a := range s.Actions {
		if a.Name == "" {
			return fmt.Errorf("hooks: operation %q has an unnamed action", s.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("hooks: operation %q declares action %q twice", s.Name, a.Name)
		}
		seen[a.Name] = true
		if a.Code == "" {
			return fmt.Errorf("hooks: action %q of %q has no code", a.Name, s.Name)
		}
	}
	return nil
}

// DynamicPending is the generated pending for a dynamically-registered
// operation: its plan fields come from the spec plus per-call values, and
// each spec action becomes a whitelisted method evaluated in the
// expression sandbox.
type DynamicPending struct {
	*Base
	Spec *OperationSpec

	// Tract is the only handle action code receives into the engine; it
	// must implement Callable (and optionally FieldGetter).
	Tract Callable
}

// NewDynamicPending builds a pending for spec with per-call fields and an
// execute closure. Action code sees {pending, tract, args}.
func NewDynamicPending(spec *OperationSpec, tract Callable, fields map[string]any, execute func(ctx context.Context) (any, error)) *DynamicPending {
	p := &DynamicPending{
		Base:  NewBase(spec.Name, execute),
		Spec:  spec,
		Tract: tract,
	}
	for k, v := range spec.Fields {
		p.Fields[k] = v
	}
	for k, v := range fields {
		p.Fields[k] = v
	}
	for _, a := range spec.Actions {
		action := a
		p.RegisterAction(Action{
			Name:     action.Name,
			Doc:      action.Doc,
			Params:   action.Params,
			Required: action.Required,
			Fn: func(_ context.Context, args map[string]any) (any, error) {
				env := map[string]any{
					"pending": pendingHandle{p: p},
					"args":    anyMap(args),
				}
				if tract != nil {
					env["tract"] = tract
				}
				return Eval(action.Code, env)
			},
		})
	}
	return p
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// pendingHandle is the view of a pending exposed to action code: fields
// are readable, and only approve/reject/pass_through/set/get are callable.
type pendingHandle struct{ p *DynamicPending }

func (h pendingHandle) Field(name string) (any, bool) {
	switch name {
	case "operation":
		return h.p.Operation(), true
	case "pending_id":
		return h.p.ID(), true
	case "status":
		return string(h.p.Status()), true
	}
	v, ok := h.p.Fields[name]
	return v, ok
}

func (h pendingHandle) Call(name string, args []any) (any, error) {
	switch name {
	case "approve":
		return h.p.Approve(context.Background())
	case "reject":
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		h.p.Reject(reason)
		return nil, nil
	case "pass_through":
		h.p.PassThrough()
		return nil, nil
	case "set":
		if len(args) != 2 {
			return nil, fmt.Errorf("hooks: pending.set needs (field, value)")
		}
		h.p.Fields[fmt.Sprint(args[0])] = args[1]
		return nil, nil
	case "get":
		if len(args) != 1 {
			return nil, fmt.Errorf("hooks: pending.get needs (field)")
		}
		return h.p.Fields[fmt.Sprint(args[0])], nil
	default:
		return nil, fmt.Errorf("hooks: pending has no method %q", name)
	}
}

// SpecStore persists operation specs as on-disk JSON and reloads them at
// open time; files that fail to parse are moved to quarantine/ rather
// than blocking the open.
type SpecStore struct {
	// Dir is the operations directory, e.g. <db-dir>/.tract/operations.
	Dir string
}

func (s *SpecStore) path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// Save writes spec to <dir>/<name>.json, creating the directory if needed.
func (s *SpecStore) Save(spec *OperationSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("hooks: create operations dir: %w", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("hooks: encode spec %q: %w", spec.Name, err)
	}
	if err := os.WriteFile(s.path(spec.Name), data, 0o644); err != nil {
		return fmt.Errorf("hooks: write spec %q: %w", spec.Name, err)
	}
	return nil
}

// Remove deletes the persisted spec file for name.
func (s *SpecStore) Remove(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hooks: remove spec %q: %w", name, err)
	}
	return nil
}

// LoadAll reads every *.json spec under Dir. Files that fail to parse or
// validate are moved into <parent>/quarantine/ and reported in the second
// return value; a missing directory is not an error.
func (s *SpecStore) LoadAll() ([]*OperationSpec, []string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("hooks: read operations dir: %w", err)
	}
	var specs []*OperationSpec
	var quarantined []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		full := filepath.Join(s.Dir, e.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, nil, fmt.Errorf("hooks: read spec %s: %w", e.Name(), err)
		}
		var spec OperationSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			quarantined = append(quarantined, s.quarantine(full, e.Name()))
			continue
		}
		if err := spec.Validate(); err != nil {
			quarantined = append(quarantined, s.quarantine(full, e.Name()))
			continue
		}
		specs = append(specs, &spec)
	}
	return specs, quarantined, nil
}

func (s *SpecStore) quarantine(full, name string) string {
	qdir := filepath.Join(filepath.Dir(s.Dir), "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return full
	}
	dest := filepath.Join(qdir, name)
	if err := os.Rename(full, dest); err != nil {
		return full
	}
	return dest
}
