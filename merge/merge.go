// Package merge implements the three-way merge: fast-forward detection,
// conflict classification by content group, and replay of
// non-conflicting commits onto the target branch.
package merge

import (
	"context"
	"time"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/dag"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Type is the result kind a completed or planned merge falls into.
type Type string

const (
	TypeFastForward Type = "fast_forward"
	TypeClean       Type = "clean"
	TypeConflict    Type = "conflict"
)

// ConflictKind classifies why two branches disagree over one logical commit.
type ConflictKind string

const (
	ConflictBothEdit      ConflictKind = "both_edit"
	ConflictSkipVsEdit     ConflictKind = "skip_vs_edit"
	ConflictEditPlusAppend ConflictKind = "edit_plus_append"
)

// ConflictInfo carries the full text of both sides plus the common
// ancestor, for a handler (human or LLM resolver) to decide a resolution.
type ConflictInfo struct {
	Target      string // the append commit hash both sides disagree about
	Kind        ConflictKind
	BaseText    string
	SideAText   string
	SideBText   string
	SideACommit string
	SideBCommit string
}

// replayEntry is one source-only commit to recreate on the target chain.
type replayEntry struct {
	source storage.Commit
}

// Plan is the output of Plan: either a ready-to-execute fast-forward/clean
// merge, or a conflict set a caller must resolve before Resolve can run.
type Plan struct {
	Type         Type
	TargetBranch string
	SourceBranch string
	Base         string
	TargetTip    string
	SourceTip    string
	NoFF         bool

	replay    []replayEntry
	Conflicts []ConflictInfo
}

// Engine plans and executes merges for one tract.
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

// Plan computes the merge plan of sourceBranch into targetBranch.
func (e *Engine) Plan(ctx context.Context, targetBranch, sourceBranch string, noFF bool) (*Plan, error) {
	targetTip, err := e.Store.Refs.GetBranch(ctx, e.TractID, targetBranch)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "resolving target branch "+targetBranch)
	}
	sourceTip, err := e.Store.Refs.GetBranch(ctx, e.TractID, sourceBranch)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBranchNotFound, err, "resolving source branch "+sourceBranch)
	}

	base, err := dag.MergeBase(ctx, e.Lookup, e.TractID, targetTip, sourceTip)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "computing merge base")
	}

	if base == sourceTip {
		return nil, tracterr.New(tracterr.KindNothingToMerge, "source is already reachable from target")
	}

	plan := &Plan{TargetBranch: targetBranch, SourceBranch: sourceBranch, Base: base, TargetTip: targetTip, SourceTip: sourceTip, NoFF: noFF}

	if base == targetTip && !noFF {
		plan.Type = TypeFastForward
		return plan, nil
	}

	hashesA, err := dag.BranchCommits(ctx, e.Lookup, e.TractID, targetTip, base)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "walking target branch commits")
	}
	commitsARaw, err := e.Store.Commits.ListByHashes(ctx, e.TractID, hashesA)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "loading target branch commits")
	}
	commitsA := orderByHashes(commitsARaw, hashesA)
	hashesB, err := dag.BranchCommits(ctx, e.Lookup, e.TractID, sourceTip, base)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "walking source branch commits")
	}
	commitsBRaw, err := e.Store.Commits.ListByHashes(ctx, e.TractID, hashesB)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "loading source branch commits")
	}
	commitsB := orderByHashes(commitsBRaw, hashesB)

	groupA := groupByTarget(commitsA)
	groupB := groupByTarget(commitsB)

	seen := map[string]bool{}
	var conflicts []ConflictInfo
	var replay []replayEntry

	for _, cm := range commitsB {
		key := groupKey(cm)
		if seen[key] {
			continue
		}
		seen[key] = true
		a, hasA := groupA[key]
		b := groupB[key]

		switch {
		case !hasA:
			replay = append(replay, replayEntry{source: b})
		case a.Operation == "edit" && b.Operation == "edit":
			ci, err := e.buildConflict(ctx, key, ConflictBothEdit, a, b)
			if err != nil {
				return nil, err
			}
			conflicts = append(conflicts, ci)
		case a.Operation == "edit" && b.ResponseTo == key:
			ci, err := e.buildConflict(ctx, key, ConflictEditPlusAppend, a, b)
			if err != nil {
				return nil, err
			}
			conflicts = append(conflicts, ci)
		case b.Operation == "edit" && e.isSkipped(ctx, key):
			ci, err := e.buildConflict(ctx, key, ConflictSkipVsEdit, a, b)
			if err != nil {
				return nil, err
			}
			conflicts = append(conflicts, ci)
		default:
			replay = append(replay, replayEntry{source: b})
		}
	}
	for _, cm := range commitsA {
		key := groupKey(cm)
		if seen[key] {
			continue
		}
		seen[key] = true
		// target-only group: already on the target chain, nothing to do.
	}

	plan.replay = replay
	plan.Conflicts = conflicts
	if len(conflicts) > 0 {
		plan.Type = TypeConflict
	} else {
		plan.Type = TypeClean
	}
	return plan, nil
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

func groupKey(cm storage.Commit) string {
	if cm.Operation == "edit" && cm.EditTarget != "" {
		return cm.EditTarget
	}
	return cm.CommitHash
}

func groupByTarget(commits []storage.Commit) map[string]storage.Commit {
	out := make(map[string]storage.Commit, len(commits))
	for _, cm := range commits {
		out[groupKey(cm)] = cm
	}
	return out
}

func (e *Engine) isSkipped(ctx context.Context, target string) bool {
	ann, err := e.Store.Annotations.Latest(ctx, e.TractID, target)
	if err != nil {
		return false
	}
	return ann.Priority == string(content.PrioritySkip)
}

func (e *Engine) buildConflict(ctx context.Context, target string, kind ConflictKind, a, b storage.Commit) (ConflictInfo, error) {
	baseCommit, err := e.Store.Commits.Get(ctx, e.TractID, target)
	if err != nil {
		return ConflictInfo{}, tracterr.Wrap(tracterr.KindMergeConflict, err, "loading conflict base commit")
	}
	baseText, err := e.textOf(ctx, baseCommit)
	if err != nil {
		return ConflictInfo{}, err
	}
	aText, err := e.textOf(ctx, a)
	if err != nil {
		return ConflictInfo{}, err
	}
	bText, err := e.textOf(ctx, b)
	if err != nil {
		return ConflictInfo{}, err
	}
	return ConflictInfo{
		Target: target, Kind: kind, BaseText: baseText,
		SideAText: aText, SideBText: bText,
		SideACommit: a.CommitHash, SideBCommit: b.CommitHash,
	}, nil
}

func (e *Engine) textOf(ctx context.Context, cm storage.Commit) (string, error) {
	blob, err := e.Store.Blobs.Get(ctx, cm.ContentHash)
	if err != nil {
		return "", tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading blob for "+cm.CommitHash)
	}
	payload, err := content.FromJSON(blob.PayloadJSON)
	if err != nil {
		return "", tracterr.Wrap(tracterr.KindContentValidation, err, "decoding blob for "+cm.CommitHash)
	}
	return content.PrimaryText(payload), nil
}

// Result is the outcome of executing a plan.
type Result struct {
	Type         Type
	MergeCommit  string
	NewTargetTip string
}

// Execute runs a fast-forward or clean (no-conflict) plan. It refuses a
// conflict-type plan; callers must resolve those via Resolve.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if plan.Type == TypeConflict {
		return nil, tracterr.New(tracterr.KindMergeConflict, "plan has unresolved conflicts; call Resolve")
	}
	now := e.now()
	if plan.Type == TypeFastForward {
		if err := e.Store.Refs.SetBranch(ctx, e.TractID, plan.TargetBranch, plan.SourceTip, now); err != nil {
			return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "advancing target branch")
		}
		return &Result{Type: TypeFastForward, NewTargetTip: plan.SourceTip}, nil
	}
	return e.finish(ctx, plan, nil)
}

// Resolve applies resolutions (keyed by ConflictInfo.Target) as edit
// commits, then finishes a conflict-type plan with a merge commit.
func (e *Engine) Resolve(ctx context.Context, plan *Plan, resolutions map[string]string) (*Result, error) {
	if plan.Type != TypeConflict {
		return nil, tracterr.New(tracterr.KindMergeConflict, "plan has no conflicts to resolve")
	}
	for _, c := range plan.Conflicts {
		if _, ok := resolutions[c.Target]; !ok {
			return nil, tracterr.Newf(tracterr.KindMergeConflict, "missing resolution for %s", c.Target)
		}
	}
	return e.finish(ctx, plan, resolutions)
}

func (e *Engine) finish(ctx context.Context, plan *Plan, resolutions map[string]string) (*Result, error) {
	replayByTarget := make(map[string]replayEntry, len(plan.replay))
	for _, r := range plan.replay {
		replayByTarget[groupKey(r.source)] = r
	}

	order := make([]string, 0, len(plan.replay)+len(plan.Conflicts))
	for _, r := range plan.replay {
		order = append(order, groupKey(r.source))
	}
	for _, c := range plan.Conflicts {
		order = append(order, c.Target)
	}

	resolvedCommits := map[string]bool{}
	for _, key := range order {
		if resolvedCommits[key] {
			continue
		}
		resolvedCommits[key] = true

		if text, isResolution := resolutions[key]; isResolution {
			tx := e.CommitEngine
			target, err := e.Store.Commits.Get(ctx, e.TractID, key)
			if err != nil {
				return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "loading conflict target")
			}
			targetBlob, err := e.Store.Blobs.Get(ctx, target.ContentHash)
			if err != nil {
				return nil, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading conflict target blob")
			}
			targetPayload, err := content.FromJSON(targetBlob.PayloadJSON)
			if err != nil {
				return nil, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding conflict target payload")
			}
			payload := content.WithText(targetPayload, text)
			if _, err := tx.Commit(ctx, commitengine.CommitParams{
				Payload: payload, Operation: "edit", EditTarget: key,
				Message: "merge resolution for " + key,
			}); err != nil {
				return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "committing merge resolution")
			}
			continue
		}

		entry := replayByTarget[key]
		if _, err := e.replayOne(ctx, entry.source); err != nil {
			return nil, err
		}
	}

	mergeCommit, err := e.CommitEngine.Commit(ctx, commitengine.CommitParams{
		Payload: content.Freeform{Text: "Merge " + plan.SourceBranch + " into " + plan.TargetBranch, Role: content.RoleAssistant},
		Message: "merge " + plan.SourceBranch + " into " + plan.TargetBranch,
	})
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "creating merge commit")
	}
	if err := e.Store.CommitParents.Add(ctx, e.TractID, mergeCommit.CommitHash, []string{plan.SourceTip}); err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "recording merge's extra parent")
	}
	if err := e.Store.Refs.SetBranch(ctx, e.TractID, plan.TargetBranch, mergeCommit.CommitHash, e.now()); err != nil {
		return nil, tracterr.Wrap(tracterr.KindMergeConflict, err, "advancing target branch to merge commit")
	}

	resultType := TypeClean
	if len(plan.Conflicts) > 0 {
		resultType = TypeConflict
	}
	return &Result{Type: resultType, MergeCommit: mergeCommit.CommitHash, NewTargetTip: mergeCommit.CommitHash}, nil
}

// replayOne recreates a source-branch commit on top of the target chain
// that Commit() is currently building against (HEAD must already be the
// in-progress new target tip; commitengine reads HEAD for the parent).
func (e *Engine) replayOne(ctx context.Context, source storage.Commit) (storage.Commit, error) {
	blob, err := e.Store.Blobs.Get(ctx, source.ContentHash)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading replay source blob")
	}
	payload, err := content.FromJSON(blob.PayloadJSON)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding replay source payload")
	}
	return e.CommitEngine.Commit(ctx, commitengine.CommitParams{
		Payload: payload, Operation: source.Operation, EditTarget: source.EditTarget, Message: source.Message,
	})
}

func (e *Engine) now() string { return e.Now().UTC().Format(time.RFC3339Nano) }
