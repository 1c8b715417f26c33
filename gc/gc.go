// Package gc finds commits unreachable from any branch or HEAD and
// deletes those past their retention window, reclaiming blobs no
// reachable commit references anymore.
package gc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/dag"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Params configures one collection run. Retention windows are days; a
// negative value means "use the engine default", zero means "delete
// immediately".
type Params struct {
	OrphanRetentionDays  int
	ArchiveRetentionDays int
}

// Candidate is one unreachable commit the plan proposes to delete.
type Candidate struct {
	Commit   storage.Commit
	Archived bool // consumed by a compression event; archive window applies
}

// Plan lists the deletions a collection run would perform. Handlers may
// Exclude hashes before the plan executes.
type Plan struct {
	Params     Params
	Candidates []Candidate
	excluded   map[string]bool
}

// Exclude drops hash from the plan before it executes.
func (p *Plan) Exclude(hash string) {
	if p.excluded == nil {
		p.excluded = map[string]bool{}
	}
	p.excluded[hash] = true
}

// Result reports what a collection run removed.
type Result struct {
	CommitsRemoved  int
	BlobsRemoved    int
	TokensFreed     int
	ArchivesRemoved int
	DurationSeconds float64
	EventID         string
}

// Engine plans and executes garbage collection for one tract.
type Engine struct {
	Store   *storage.Store
	Lookup  dag.ParentLookup
	TractID string
	Now     func() time.Time
}

func New(store *storage.Store, tractID string) *Engine {
	return &Engine{Store: store, Lookup: dag.StoreLookup{Store: store}, TractID: tractID, Now: time.Now}
}

// Plan computes the unreachable set and filters it through the retention
// windows. Read-only; nothing is deleted here.
func (e *Engine) Plan(ctx context.Context, p Params) (*Plan, error) {
	reachable, err := e.reachable(ctx)
	if err != nil {
		return nil, err
	}

	all, err := e.Store.Commits.AllForTract(ctx, e.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "listing commits")
	}
	archived, err := e.Store.OperationEvents.ArchivedCommits(ctx, e.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "listing archived commits")
	}

	now := e.Now().UTC()
	plan := &Plan{Params: p}
	for _, cm := range all {
		if reachable[cm.CommitHash] {
			continue
		}
		isArchived := archived[cm.CommitHash]
		days := p.OrphanRetentionDays
		if isArchived {
			days = p.ArchiveRetentionDays
		}
		if !pastRetention(cm.CreatedAt, now, days) {
			continue
		}
		plan.Candidates = append(plan.Candidates, Candidate{Commit: cm, Archived: isArchived})
	}
	return plan, nil
}

// reachable is the union of ancestor sets over every branch tip plus HEAD.
func (e *Engine) reachable(ctx context.Context) (map[string]bool, error) {
	roots := map[string]bool{}
	if head, err := e.Store.Refs.GetHead(ctx, e.TractID); err == nil && head != "" {
		roots[head] = true
	} else if err != nil && err != storage.ErrNotFound {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "resolving HEAD")
	}
	branches, err := e.Store.Refs.ListBranches(ctx, e.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "listing branches")
	}
	for _, b := range branches {
		tip, err := e.Store.Refs.GetBranch(ctx, e.TractID, b)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindGC, err, "resolving branch "+b)
		}
		if tip != "" {
			roots[tip] = true
		}
	}

	reachable := map[string]bool{}
	for root := range roots {
		ancestors, err := dag.AllAncestors(ctx, e.Lookup, e.TractID, root)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindGC, err, "walking ancestors of "+root)
		}
		for h := range ancestors {
			reachable[h] = true
		}
	}
	return reachable, nil
}

func pastRetention(createdAt string, now time.Time, days int) bool {
	if days <= 0 {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		// unparseable timestamps never expire; deleting on bad data
		// would violate the reachability guarantee silently.
		return false
	}
	return now.Sub(t) >= time.Duration(days)*24*time.Hour
}

// Execute deletes the plan's candidates (minus exclusions) and any blobs
// left unreferenced, all inside one transaction.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	start := e.Now()
	result := &Result{}

	err := e.Store.Batch(ctx, func(tx *storage.Store) error {
		contentHashes := map[string]bool{}
		for _, cand := range plan.Candidates {
			cm := cand.Commit
			if plan.excluded[cm.CommitHash] {
				continue
			}
			if err := tx.Annotations.DeleteForTarget(ctx, e.TractID, cm.CommitHash); err != nil {
				return err
			}
			if err := tx.CommitParents.DeleteForCommit(ctx, e.TractID, cm.CommitHash); err != nil {
				return err
			}
			if err := tx.Commits.Delete(ctx, e.TractID, cm.CommitHash); err != nil {
				return err
			}
			result.CommitsRemoved++
			result.TokensFreed += cm.TokenCount
			if cand.Archived {
				result.ArchivesRemoved++
			}
			contentHashes[cm.ContentHash] = true
		}
		for h := range contentHashes {
			referenced, err := tx.Blobs.ReferencedBy(ctx, e.TractID, h)
			if err != nil {
				return err
			}
			if !referenced {
				if err := tx.Blobs.Delete(ctx, h); err != nil {
					return err
				}
				result.BlobsRemoved++
			}
		}
		return nil
	})
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "deleting unreachable commits")
	}

	result.DurationSeconds = e.Now().Sub(start).Seconds()

	eventID := uuid.NewString()
	paramsJSON, _ := json.Marshal(plan.Params)
	resultJSON, _ := json.Marshal(result)
	if err := e.Store.OperationEvents.Create(ctx, storage.OperationEvent{
		ID: eventID, TractID: e.TractID, Operation: "gc",
		ParamsJSON: string(paramsJSON), ResultJSON: string(resultJSON),
		CreatedAt: e.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return nil, tracterr.Wrap(tracterr.KindGC, err, "recording gc event")
	}
	result.EventID = eventID
	return result, nil
}
