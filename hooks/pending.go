// Package hooks implements the two-phase plan/execute protocol every
// destructive or judgment-laden operation runs through: the plan phase
// packages everything needed to execute into a Pending object, and
// execution happens only when a handler (or the caller) approves it.
package hooks

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Status is the lifecycle state of a Pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Action is one whitelisted method an agent may invoke on a Pending via
// ExecuteTool or ApplyDecision. Anything not in the table is unreachable
// from outside, keeping private helpers private.
type Action struct {
	Name     string
	Doc      string
	Params   []string
	Required []string
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

// Pending is the plan-phase object a hookable operation produces.
// Approve runs the execute closure captured at plan time; Reject records
// a reason without side effects; PassThrough defers to the next handler.
type Pending interface {
	Operation() string
	ID() string
	Status() Status
	RejectionReason() string

	Approve(ctx context.Context) (any, error)
	Reject(reason string)
	PassThrough()

	PublicActions() []string
	ToDict() map[string]any
	ToTools() []map[string]any
	DescribeAPI() string
	ApplyDecision(ctx context.Context, decision map[string]any) (any, error)
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error)

	// passedThrough reports and clears the pass-through mark; the router
	// uses it to decide whether to call the next handler in the chain.
	passedThrough() bool
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewPendingID returns a fresh ULID; IDs sort lexicographically by
// creation time.
func NewPendingID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Base carries the state and machinery shared by every Pending type.
// Operation-specific types embed it and register their whitelisted
// actions with RegisterAction.
type Base struct {
	operation   string
	id          string
	status      Status
	reason      string
	result      any
	executed    bool
	passThrough bool

	execute func(ctx context.Context) (any, error)
	actions map[string]Action
	order   []string // action registration order, for stable output

	// Fields is operation-specific plan data surfaced through ToDict for
	// LLM consumption.
	Fields map[string]any
}

// NewBase builds the shared Pending state for operation, capturing the
// execute closure Approve will run.
func NewBase(operation string, execute func(ctx context.Context) (any, error)) *Base {
	return &Base{
		operation: operation,
		id:        NewPendingID(),
		status:    StatusPending,
		execute:   execute,
		actions:   map[string]Action{},
		Fields:    map[string]any{},
	}
}

// RegisterAction whitelists an action; only registered actions are
// reachable through ExecuteTool/ApplyDecision/ToTools.
func (b *Base) RegisterAction(a Action) {
	if _, exists := b.actions[a.Name]; !exists {
		b.order = append(b.order, a.Name)
	}
	b.actions[a.Name] = a
}

func (b *Base) Operation() string        { return b.operation }
func (b *Base) ID() string               { return b.id }
func (b *Base) Status() Status           { return b.status }
func (b *Base) RejectionReason() string  { return b.reason }

// Result returns the value Approve produced, or nil before execution.
func (b *Base) Result() any { return b.result }

// Approve executes the planned operation. It is idempotent: a second
// call returns the stored result without re-executing.
func (b *Base) Approve(ctx context.Context) (any, error) {
	if b.status == StatusRejected {
		return nil, fmt.Errorf("hooks: pending %s already rejected: %s", b.id, b.reason)
	}
	if b.executed {
		return b.result, nil
	}
	out, err := b.execute(ctx)
	if err != nil {
		return nil, err
	}
	b.executed = true
	b.result = out
	b.status = StatusApproved
	return out, nil
}

// Reject marks the pending rejected; no state is written.
func (b *Base) Reject(reason string) {
	if b.status == StatusApproved {
		return
	}
	b.status = StatusRejected
	b.reason = reason
}

// PassThrough declares "no opinion": the next handler in the chain runs,
// and if every handler passes through the operation auto-approves.
func (b *Base) PassThrough() { b.passThrough = true }

func (b *Base) passedThrough() bool {
	p := b.passThrough
	b.passThrough = false
	return p
}

// PublicActions returns the whitelisted action names in registration order.
func (b *Base) PublicActions() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// ToDict serializes the pending for LLM consumption: identity, status,
// plan fields, and the available actions.
func (b *Base) ToDict() map[string]any {
	fields := make(map[string]any, len(b.Fields))
	for k, v := range b.Fields {
		fields[k] = v
	}
	return map[string]any{
		"operation":      b.operation,
		"pending_id":     b.id,
		"status":         string(b.status),
		"fields":         fields,
		"public_actions": b.PublicActions(),
	}
}

// ToTools derives JSON-schema tool definitions from the whitelisted
// actions, one tool per action plus approve/reject.
func (b *Base) ToTools() []map[string]any {
	tools := []map[string]any{
		toolDef("approve", "Approve the pending "+b.operation+" and execute it.", nil, nil),
		toolDef("reject", "Reject the pending "+b.operation+" with a reason.", []string{"reason"}, []string{"reason"}),
	}
	for _, name := range b.order {
		a := b.actions[name]
		tools = append(tools, toolDef(a.Name, a.Doc, a.Params, a.Required))
	}
	return tools
}

func toolDef(name, doc string, params, required []string) map[string]any {
	props := map[string]any{}
	for _, p := range params {
		props[p] = map[string]any{"type": "string"}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"name":        name,
		"description": doc,
		"parameters": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// DescribeAPI renders markdown documentation for the pending's actions.
func (b *Base) DescribeAPI() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Pending %s (`%s`)\n\n", b.operation, b.id)
	sb.WriteString("- `approve()` — execute the planned operation\n")
	sb.WriteString("- `reject(reason)` — discard the plan\n")
	sb.WriteString("- `pass_through()` — defer to the next handler\n")
	for _, name := range b.order {
		a := b.actions[name]
		fmt.Fprintf(&sb, "- `%s(%s)` — %s\n", a.Name, strings.Join(a.Params, ", "), a.Doc)
	}
	return sb.String()
}

// ApplyDecision dispatches a {action, args} decision, gated on the
// whitelist plus the three universal verbs.
func (b *Base) ApplyDecision(ctx context.Context, decision map[string]any) (any, error) {
	name, _ := decision["action"].(string)
	args, _ := decision["args"].(map[string]any)
	switch name {
	case "approve":
		return b.Approve(ctx)
	case "reject":
		reason, _ := args["reason"].(string)
		b.Reject(reason)
		return nil, nil
	case "pass_through":
		b.PassThrough()
		return nil, nil
	case "":
		return nil, fmt.Errorf("hooks: decision has no action")
	default:
		return b.ExecuteTool(ctx, name, args)
	}
}

// ExecuteTool invokes a whitelisted action by name. Unknown names fail
// rather than falling back to reflection, so private helpers stay private.
func (b *Base) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	a, ok := b.actions[name]
	if !ok {
		return nil, fmt.Errorf("hooks: action %q is not available on pending %s", name, b.operation)
	}
	for _, req := range a.Required {
		if _, present := args[req]; !present {
			return nil, fmt.Errorf("hooks: action %q requires argument %q", name, req)
		}
	}
	return a.Fn(ctx, args)
}

// NewBasePending builds a plain pending with no operation-specific
// actions, used for trigger/policy firings whose plan is just a field map.
func NewBasePending(operation string, fields map[string]any, execute func(ctx context.Context) (any, error)) *Base {
	b := NewBase(operation, execute)
	for k, v := range fields {
		b.Fields[k] = v
	}
	return b
}

// Rejection is the value (not error) returned when a hookable operation
// is rejected; the caller inspects the reason instead of unwinding.
type Rejection struct {
	Reason   string
	Pending  Pending
	Source   string // "hook" | "handler" | "validation"
	Metadata map[string]any
}

// MarshalJSON keeps a rejection loggable without dragging the full
// pending (and its closures) into the encoder.
func (r *Rejection) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"reason":     r.Reason,
		"source":     r.Source,
		"operation":  r.Pending.Operation(),
		"pending_id": r.Pending.ID(),
		"metadata":   r.Metadata,
	})
}
