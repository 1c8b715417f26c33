// Package rebase implements replaying one branch's commits onto a new
// base, surfaced as a plan a caller can exclude commits from before
// executing.
package rebase

import (
	"context"
	"time"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/dag"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Warning flags a commit the replay had to treat specially: skipped by
// the caller, or an edit whose target moved to the replayed side.
type Warning struct {
	CommitHash string
	Reason     string
}

// Plan is the ordered list of commits to replay onto onto's tip.
type Plan struct {
	Branch       string
	OntoBranch   string
	Base         string
	OriginalTip  string
	OntoTip      string
	Commits      []storage.Commit
	excluded     map[string]bool
}

// Exclude drops hash from the plan before it executes.
func (p *Plan) Exclude(hash string) {
	if p.excluded == nil {
		p.excluded = map[string]bool{}
	}
	p.excluded[hash] = true
}

// Engine plans and executes rebases for one tract.
type Engine struct {
	Store        *storage.Store
	CommitEngine *commitengine.Engine
	Lookup       dag.ParentLookup
	TractID      string
	Now          func() time.Time
}

func New(store *storage.Store, ce *commitengine.Engine, tractID string) *Engine {
	return &Engine{Store: store, CommitEngine: ce, Lookup: dag.StoreLookup{Store: store}, TractID: tractID, Now: time.Now}
}

func (e *Engine) now() string { return e.Now().UTC().Format(time.RFC3339Nano) }

// Plan computes the rebase of branch onto ontoBranch's current tip.
func (e *Engine) Plan(ctx context.Context, branch, ontoBranch string) (*Plan, error) {
	tip, err := e.Store.Refs.GetBranch(ctx, e.TractID, branch)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "resolving branch "+branch)
	}
	ontoTip, err := e.Store.Refs.GetBranch(ctx, e.TractID, ontoBranch)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "resolving onto branch "+ontoBranch)
	}
	base, err := dag.MergeBase(ctx, e.Lookup, e.TractID, tip, ontoTip)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "computing merge base")
	}
	hashes, err := dag.BranchCommits(ctx, e.Lookup, e.TractID, tip, base)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "walking branch commits")
	}
	commits, err := e.Store.Commits.ListByHashes(ctx, e.TractID, hashes)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "loading branch commits")
	}
	ordered := orderByHashes(commits, hashes)

	return &Plan{
		Branch: branch, OntoBranch: ontoBranch, Base: base,
		OriginalTip: tip, OntoTip: ontoTip, Commits: ordered,
	}, nil
}

func orderByHashes(commits []storage.Commit, order []string) []storage.Commit {
	byHash := make(map[string]storage.Commit, len(commits))
	for _, c := range commits {
		byHash[c.CommitHash] = c
	}
	out := make([]storage.Commit, 0, len(order))
	for _, h := range order {
		if c, ok := byHash[h]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Result is the outcome of executing a rebase plan.
type Result struct {
	NewTip   string
	Warnings []Warning
}

// Execute detaches branch from its tip, replays the plan (minus any
// excluded commits) onto onto_tip, and advances branch to the new chain.
// On any unrecoverable failure the branch is reset to its original tip.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	var warnings []Warning
	newHead := plan.OntoTip

	if err := e.Store.Refs.DetachHead(ctx, e.TractID, plan.OntoTip, e.now()); err != nil {
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "detaching HEAD to replay base")
	}

	replayedTarget := map[string]string{} // original edit_target -> new commit hash on replayed chain

	for _, cm := range plan.Commits {
		if plan.excluded[cm.CommitHash] {
			warnings = append(warnings, Warning{CommitHash: cm.CommitHash, Reason: "excluded from rebase plan"})
			continue
		}

		blob, err := e.Store.Blobs.Get(ctx, cm.ContentHash)
		if err != nil {
			e.abort(ctx, plan)
			return nil, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading replay blob for "+cm.CommitHash)
		}
		payload, err := content.FromJSON(blob.PayloadJSON)
		if err != nil {
			e.abort(ctx, plan)
			return nil, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding replay payload for "+cm.CommitHash)
		}

		editTarget := cm.EditTarget
		if cm.Operation == "edit" {
			if newTarget, ok := replayedTarget[cm.EditTarget]; ok {
				editTarget = newTarget
				warnings = append(warnings, Warning{CommitHash: cm.CommitHash, Reason: "edit target now lives on the replayed side"})
			}
		}

		c, err := e.CommitEngine.Commit(ctx, commitengine.CommitParams{
			Payload: payload, Operation: cm.Operation, EditTarget: editTarget, Message: cm.Message,
		})
		if err != nil {
			e.abort(ctx, plan)
			return nil, tracterr.Wrap(tracterr.KindRebase, err, "replaying commit "+cm.CommitHash)
		}
		newHead = c.CommitHash
		if cm.Operation == "append" {
			replayedTarget[cm.CommitHash] = c.CommitHash
		}
	}

	if err := e.Store.Refs.SetBranch(ctx, e.TractID, plan.Branch, newHead, e.now()); err != nil {
		e.abort(ctx, plan)
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "advancing branch to replayed tip")
	}
	if err := e.Store.Refs.AttachHead(ctx, e.TractID, plan.Branch, e.now()); err != nil {
		e.abort(ctx, plan)
		return nil, tracterr.Wrap(tracterr.KindRebase, err, "reattaching HEAD to "+plan.Branch)
	}

	return &Result{NewTip: newHead, Warnings: warnings}, nil
}

func (e *Engine) abort(ctx context.Context, plan *Plan) {
	_ = e.Store.Refs.SetBranch(ctx, e.TractID, plan.Branch, plan.OriginalTip, e.now())
	_ = e.Store.Refs.AttachHead(ctx, e.TractID, plan.Branch, e.now())
}
