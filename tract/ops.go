package tract

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/compile"
	"github.com/tractvcs/tract/compress"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/gc"
	"github.com/tractvcs/tract/hooks"
	"github.com/tractvcs/tract/importcommit"
	"github.com/tractvcs/tract/merge"
	"github.com/tractvcs/tract/rebase"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// MergeOptions configures Merge.
type MergeOptions struct {
	NoFF bool
	// Review returns the pending to the caller instead of routing it
	// through registered handlers.
	Review bool
}

// MergeOutcome is what a Merge call produces: Result on success, Pending
// alone in review mode (conflicts unresolved), or Rejection together with
// the rejected Pending when a handler rejects.
type MergeOutcome struct {
	Result    *merge.Result
	Pending   *hooks.PendingMerge
	Rejection *hooks.Rejection
}

// Merge merges sourceBranch into the current branch. Fast-forward and
// clean merges execute immediately; a conflicted merge goes through the
// hook system (or back to the caller with Review).
func (t *Tract) Merge(ctx context.Context, sourceBranch string, opts MergeOptions) (*MergeOutcome, error) {
	branchName, attached, err := t.Store.Refs.CurrentBranch(ctx, t.ID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "reading current branch")
	}
	if !attached {
		return nil, tracterr.New(tracterr.KindDetachedHead, "cannot merge onto a detached HEAD")
	}

	plan, err := t.Merges.Plan(ctx, branchName, sourceBranch, opts.NoFF)
	if err != nil {
		t.metrics.IncError("merge")
		return nil, err
	}

	if plan.Type != merge.TypeConflict {
		result, err := t.Merges.Execute(ctx, plan)
		if err != nil {
			t.metrics.IncError("merge")
			return nil, err
		}
		t.Compiler.Invalidate()
		return &MergeOutcome{Result: result}, nil
	}

	var pending *hooks.PendingMerge
	pending = hooks.NewPendingMerge(plan, t.llm, func(ctx context.Context) (any, error) {
		for _, c := range plan.Conflicts {
			if _, ok := pending.Resolutions[c.Target]; !ok {
				return nil, tracterr.Newf(tracterr.KindMergeConflict, "no resolution for conflict %s", c.Target)
			}
		}
		result, err := t.Merges.Resolve(ctx, plan, pending.Resolutions)
		if err != nil {
			return nil, err
		}
		t.Compiler.Invalidate()
		return result, nil
	})

	if opts.Review {
		return &MergeOutcome{Pending: pending}, nil
	}
	out, rej, err := t.route(ctx, pending)
	if err != nil {
		t.metrics.IncError("merge")
		return nil, err
	}
	if rej != nil {
		return &MergeOutcome{Pending: pending, Rejection: rej}, nil
	}
	return &MergeOutcome{Result: out.(*merge.Result)}, nil
}

// RebaseOptions configures Rebase.
type RebaseOptions struct {
	Review bool
}

// RebaseOutcome mirrors MergeOutcome for rebase.
type RebaseOutcome struct {
	Result    *rebase.Result
	Pending   *hooks.PendingRebase
	Rejection *hooks.Rejection
}

// Rebase replays the current branch onto ontoBranch's tip.
func (t *Tract) Rebase(ctx context.Context, ontoBranch string, opts RebaseOptions) (*RebaseOutcome, error) {
	branchName, attached, err := t.Store.Refs.CurrentBranch(ctx, t.ID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "reading current branch")
	}
	if !attached {
		return nil, tracterr.New(tracterr.KindDetachedHead, "cannot rebase a detached HEAD")
	}

	plan, err := t.Rebases.Plan(ctx, branchName, ontoBranch)
	if err != nil {
		t.metrics.IncError("rebase")
		return nil, err
	}

	pending := hooks.NewPendingRebase(plan, func(ctx context.Context) (any, error) {
		result, err := t.Rebases.Execute(ctx, plan)
		if err != nil {
			return nil, err
		}
		t.Compiler.Invalidate()
		return result, nil
	})

	if opts.Review {
		return &RebaseOutcome{Pending: pending}, nil
	}
	out, rej, err := t.route(ctx, pending)
	if err != nil {
		t.metrics.IncError("rebase")
		return nil, err
	}
	if rej != nil {
		return &RebaseOutcome{Pending: pending, Rejection: rej}, nil
	}
	return &RebaseOutcome{Result: out.(*rebase.Result)}, nil
}

// CompressOptions configures Compress.
type CompressOptions struct {
	Review bool
}

// CompressOutcome mirrors MergeOutcome for compression.
type CompressOutcome struct {
	Result    *compress.Result
	Pending   *hooks.PendingCompress
	Rejection *hooks.Rejection
}

// Compress plans, summarizes, validates, and (through the hook system)
// executes a compression run.
func (t *Tract) Compress(ctx context.Context, params compress.Params, opts CompressOptions) (*CompressOutcome, error) {
	plan, err := t.Compressor.Plan(ctx, params)
	if err != nil {
		t.metrics.IncError("compress")
		return nil, err
	}
	if err := t.Compressor.SummarizeValidated(ctx, plan); err != nil {
		t.metrics.IncError("compress")
		return nil, err
	}

	pending := hooks.NewPendingCompress(plan, t.Compressor, func(ctx context.Context) (any, error) {
		if v := compress.Validate(plan); !v.OK {
			e := tracterr.New(tracterr.KindCompression, "summaries are missing retention patterns")
			e.Fields = map[string]any{"missing": v.Missing}
			return nil, e
		}
		result, err := t.Compressor.Execute(ctx, plan)
		if err != nil {
			return nil, err
		}
		t.metrics.IncCompress()
		t.Compiler.Invalidate()
		return result, nil
	})

	if opts.Review {
		return &CompressOutcome{Pending: pending}, nil
	}
	out, rej, err := t.route(ctx, pending)
	if err != nil {
		t.metrics.IncError("compress")
		return nil, err
	}
	if rej != nil {
		return &CompressOutcome{Pending: pending, Rejection: rej}, nil
	}
	return &CompressOutcome{Result: out.(*compress.Result)}, nil
}

// GCOptions configures GC.
type GCOptions struct {
	Review bool
}

// GCOutcome mirrors MergeOutcome for garbage collection.
type GCOutcome struct {
	Result    *gc.Result
	Pending   *hooks.PendingGC
	Rejection *hooks.Rejection
}

// GC collects unreachable commits past their retention windows.
func (t *Tract) GC(ctx context.Context, params gc.Params, opts GCOptions) (*GCOutcome, error) {
	if params.OrphanRetentionDays < 0 {
		params.OrphanRetentionDays = t.cfg.OrphanRetentionDays
	}
	if params.ArchiveRetentionDays < 0 {
		params.ArchiveRetentionDays = t.cfg.ArchiveRetentionDays
	}

	plan, err := t.Collector.Plan(ctx, params)
	if err != nil {
		t.metrics.IncError("gc")
		return nil, err
	}

	pending := hooks.NewPendingGC(plan, func(ctx context.Context) (any, error) {
		result, err := t.Collector.Execute(ctx, plan)
		if err != nil {
			return nil, err
		}
		t.metrics.AddGCRemoved(result.CommitsRemoved, result.BlobsRemoved)
		t.Compiler.Invalidate()
		return result, nil
	})

	if opts.Review {
		return &GCOutcome{Pending: pending}, nil
	}
	out, rej, err := t.route(ctx, pending)
	if err != nil {
		t.metrics.IncError("gc")
		return nil, err
	}
	if rej != nil {
		return &GCOutcome{Pending: pending, Rejection: rej}, nil
	}
	return &GCOutcome{Result: out.(*gc.Result)}, nil
}

// CherryPick imports a single commit onto the current HEAD.
func (t *Tract) CherryPick(ctx context.Context, sourceHash string) (*importcommit.Result, error) {
	result, err := t.Imports.CherryPick(ctx, sourceHash)
	if err != nil {
		t.metrics.IncError("import")
		return nil, err
	}
	t.metrics.IncCommits()
	t.Compiler.Invalidate()
	return result, nil
}

// RegisterOperation installs a dynamic operation spec, persisting it to
// disk when the tract is file-backed. Names conflicting with built-ins
// or already-registered specs are refused.
func (t *Tract) RegisterOperation(spec *hooks.OperationSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, exists := t.dynamic[spec.Name]; exists {
		return fmt.Errorf("tract: operation %q is already registered", spec.Name)
	}
	if t.specStore != nil {
		if err := t.specStore.Save(spec); err != nil {
			return err
		}
	}
	t.dynamic[spec.Name] = spec
	return nil
}

// UnregisterOperation removes a dynamic operation and its persisted spec.
func (t *Tract) UnregisterOperation(name string) error {
	if _, exists := t.dynamic[name]; !exists {
		return fmt.Errorf("tract: no dynamic operation %q", name)
	}
	delete(t.dynamic, name)
	if t.specStore != nil {
		return t.specStore.Remove(name)
	}
	return nil
}

// Operations lists registered dynamic operation names.
func (t *Tract) Operations() []string {
	out := make([]string, 0, len(t.dynamic))
	for name := range t.dynamic {
		out = append(out, name)
	}
	return out
}

// RunOperation fires a dynamic operation: its pending carries the
// per-call fields, its actions run in the expression sandbox against the
// tract handle, and approval returns the (possibly mutated) fields.
func (t *Tract) RunOperation(ctx context.Context, name string, fields map[string]any, review bool) (hooks.Pending, any, *hooks.Rejection, error) {
	spec, ok := t.dynamic[name]
	if !ok {
		return nil, nil, nil, fmt.Errorf("tract: no dynamic operation %q", name)
	}
	var pending *hooks.DynamicPending
	pending = hooks.NewDynamicPending(spec, &tractHandle{t: t, ctx: ctx}, fields, func(context.Context) (any, error) {
		return pending.Fields, nil
	})
	if review {
		return pending, nil, nil, nil
	}
	out, rej, err := t.route(ctx, pending)
	return pending, out, rej, err
}

// tractHandle is the only view of the engine dynamic-operation action
// code can reach: a fixed method set, nothing else.
type tractHandle struct {
	t   *Tract
	ctx context.Context
}

func (h *tractHandle) Field(name string) (any, bool) {
	switch name {
	case "id":
		return h.t.ID, true
	}
	return nil, false
}

func (h *tractHandle) Call(name string, args []any) (any, error) {
	str := func(i int) string {
		if i < len(args) {
			return fmt.Sprint(args[i])
		}
		return ""
	}
	switch name {
	case "head":
		head, err := h.t.Store.Refs.GetHead(h.ctx, h.t.ID)
		if err == storage.ErrNotFound {
			return "", nil
		}
		return head, err
	case "branch_exists":
		_, err := h.t.Store.Refs.GetBranch(h.ctx, h.t.ID, str(0))
		if err == storage.ErrNotFound {
			return false, nil
		}
		return err == nil, err
	case "annotate":
		return nil, h.t.Annotate(h.ctx, str(0), content.Priority(str(1)), str(2), nil)
	case "resolve":
		return h.t.Resolve(h.ctx, str(0))
	case "token_count":
		compiled, err := h.t.Compile(h.ctx, compile.Options{})
		if err != nil {
			return nil, err
		}
		return float64(compiled.TokenCount), nil
	default:
		return nil, fmt.Errorf("tract: handle has no method %q", name)
	}
}
