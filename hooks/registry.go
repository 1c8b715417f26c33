package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Handler inspects a pending plan and must exit by calling Approve,
// Reject, or PassThrough on it. A handler that does none of those leaves
// the pending unresolved; if the whole chain ends unresolved the router
// warns and auto-approves.
type Handler func(ctx context.Context, p Pending) error

// CatchAll registers a handler for every operation.
const CatchAll = "*"

type namedHandler struct {
	name string
	fn   Handler
}

// LogResult is the outcome recorded for one handler firing.
type LogResult string

const (
	LogApproved     LogResult = "approved"
	LogRejected     LogResult = "rejected"
	LogPassThrough  LogResult = "pass_through"
	LogUnresolved   LogResult = "unresolved"
	LogSkipped      LogResult = "skipped"
	LogAutoApproved LogResult = "auto-approved"
)

// LogEntry is one row in the in-memory event log ring.
type LogEntry struct {
	Timestamp   time.Time
	Operation   string
	HandlerName string
	Result      LogResult
}

const defaultLogCap = 256

// Registry holds per-operation handler chains, the firing log, and the
// recursion guard. One registry per tract; not safe for concurrent use,
// matching the single-threaded core.
type Registry struct {
	handlers map[string][]namedHandler
	log      []LogEntry
	logCap   int
	depth    int
	logger   *slog.Logger
	anon     int // counter for auto-generated handler names
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: map[string][]namedHandler{},
		logCap:   defaultLogCap,
		logger:   logger.With("component", "hooks"),
	}
}

// Option adjusts a registration: name and position in the chain.
type Option func(*registration)

type registration struct {
	name    string
	prepend bool
	after   string
	before  string
	at      *int
}

// WithName names the handler for Off-by-name, ordering anchors, and the log.
func WithName(name string) Option { return func(r *registration) { r.name = name } }

// Prepend inserts the handler at the front of the chain.
func Prepend() Option { return func(r *registration) { r.prepend = true } }

// After inserts the handler immediately after the named one.
func After(name string) Option { return func(r *registration) { r.after = name } }

// Before inserts the handler immediately before the named one.
func Before(name string) Option { return func(r *registration) { r.before = name } }

// AtIndex inserts the handler at an explicit chain position.
func AtIndex(i int) Option { return func(r *registration) { at := i; r.at = &at } }

// On registers handler for operation (an op name or CatchAll). Duplicate
// named handlers on the same operation are refused.
func (r *Registry) On(operation string, handler Handler, opts ...Option) error {
	if operation == "" {
		return fmt.Errorf("hooks: operation is required")
	}
	if handler == nil {
		return fmt.Errorf("hooks: handler is required")
	}
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}
	if reg.name == "" {
		r.anon++
		reg.name = fmt.Sprintf("%s-handler-%d", operation, r.anon)
	}
	chain := r.handlers[operation]
	for _, h := range chain {
		if h.name == reg.name {
			return fmt.Errorf("hooks: handler %q already registered for %q", reg.name, operation)
		}
	}

	entry := namedHandler{name: reg.name, fn: handler}
	idx := len(chain)
	switch {
	case reg.prepend:
		idx = 0
	case reg.at != nil:
		idx = *reg.at
		if idx < 0 {
			idx = 0
		}
		if idx > len(chain) {
			idx = len(chain)
		}
	case reg.after != "":
		if i := indexOfHandler(chain, reg.after); i >= 0 {
			idx = i + 1
		} else {
			return fmt.Errorf("hooks: no handler named %q to insert after", reg.after)
		}
	case reg.before != "":
		if i := indexOfHandler(chain, reg.before); i >= 0 {
			idx = i
		} else {
			return fmt.Errorf("hooks: no handler named %q to insert before", reg.before)
		}
	}

	chain = append(chain, namedHandler{})
	copy(chain[idx+1:], chain[idx:])
	chain[idx] = entry
	r.handlers[operation] = chain

	r.logger.Debug("registered hook", "operation", operation, "name", reg.name, "position", idx)
	return nil
}

func indexOfHandler(chain []namedHandler, name string) int {
	for i, h := range chain {
		if h.name == name {
			return i
		}
	}
	return -1
}

// Off removes handlers for operation: by name when name is non-empty,
// otherwise every handler registered for the operation.
func (r *Registry) Off(operation, name string) {
	if name == "" {
		delete(r.handlers, operation)
		return
	}
	chain := r.handlers[operation]
	for i, h := range chain {
		if h.name == name {
			r.handlers[operation] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// HookNames returns the handler names registered for operation, in chain order.
func (r *Registry) HookNames(operation string) []string {
	chain := r.handlers[operation]
	out := make([]string, len(chain))
	for i, h := range chain {
		out[i] = h.name
	}
	return out
}

// PrintHooks renders the registry's chains for debugging.
func (r *Registry) PrintHooks() string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	var sb strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&sb, "%s:\n", op)
		for i, h := range r.handlers[op] {
			fmt.Fprintf(&sb, "  %d. %s\n", i, h.name)
		}
	}
	return sb.String()
}

// HookLog returns a copy of the firing log, oldest first.
func (r *Registry) HookLog() []LogEntry {
	out := make([]LogEntry, len(r.log))
	copy(out, r.log)
	return out
}

func (r *Registry) record(operation, handlerName string, result LogResult) {
	r.log = append(r.log, LogEntry{
		Timestamp:   time.Now(),
		Operation:   operation,
		HandlerName: handlerName,
		Result:      result,
	})
	if len(r.log) > r.logCap {
		r.log = r.log[len(r.log)-r.logCap:]
	}
}

// Route resolves a pending through the handler chain for its operation.
// Three tiers: the caller holding review=true never reaches Route; a
// registered chain fires in order until one handler approves or rejects;
// with no handlers the pending auto-approves. A nested hookable operation
// fired from inside a handler bypasses the chain and auto-approves (the
// recursion guard), though its firing is still logged.
func (r *Registry) Route(ctx context.Context, p Pending) (any, *Rejection, error) {
	op := p.Operation()

	if r.depth > 0 {
		r.record(op, "", LogSkipped)
		out, err := p.Approve(ctx)
		if err != nil {
			return nil, nil, err
		}
		r.record(op, "", LogAutoApproved)
		return out, nil, nil
	}

	chain := append(append([]namedHandler{}, r.handlers[op]...), r.handlers[CatchAll]...)
	if len(chain) == 0 {
		out, err := p.Approve(ctx)
		if err != nil {
			return nil, nil, err
		}
		r.record(op, "", LogAutoApproved)
		return out, nil, nil
	}

	for _, h := range chain {
		r.depth++
		err := h.fn(ctx, p)
		r.depth--
		if err != nil {
			return nil, nil, fmt.Errorf("hooks: handler %q for %q: %w", h.name, op, err)
		}
		switch {
		case p.Status() == StatusApproved:
			r.record(op, h.name, LogApproved)
			if b, ok := p.(interface{ Result() any }); ok {
				return b.Result(), nil, nil
			}
			return nil, nil, nil
		case p.Status() == StatusRejected:
			r.record(op, h.name, LogRejected)
			return nil, &Rejection{Reason: p.RejectionReason(), Pending: p, Source: "handler"}, nil
		case p.passedThrough():
			r.record(op, h.name, LogPassThrough)
			continue
		default:
			r.record(op, h.name, LogUnresolved)
		}
	}

	// no handler resolved the pending; warn and take the safe default.
	r.logger.Warn("no handler resolved pending; auto-approving", "operation", op, "pending_id", p.ID())
	out, err := p.Approve(ctx)
	if err != nil {
		return nil, nil, err
	}
	r.record(op, "", LogAutoApproved)
	return out, nil, nil
}
