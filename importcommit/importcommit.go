// Package importcommit copies a single commit onto the current HEAD
// (cherry-pick): same content blob, new commit hash, with warnings for
// semantic oddities like an edit arriving without its target.
package importcommit

import (
	"context"
	"time"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/dag"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Issue flags a semantic oddity the import went ahead with anyway.
type Issue struct {
	CommitHash string
	Reason     string
}

// Result is the outcome of a cherry-pick.
type Result struct {
	NewCommit storage.Commit
	Issues    []Issue
}

// Engine imports single commits for one tract.
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

// CherryPick copies sourceHash onto the current HEAD. The new commit
// reuses the source's content hash (same blob) under a new commit hash
// (new parent, new timestamp).
func (e *Engine) CherryPick(ctx context.Context, sourceHash string) (*Result, error) {
	source, err := e.Store.Commits.Get(ctx, e.TractID, sourceHash)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, tracterr.Newf(tracterr.KindCommitNotFound, "commit %s not found", sourceHash)
		}
		return nil, tracterr.Wrap(tracterr.KindImportCommit, err, "loading source commit")
	}

	blob, err := e.Store.Blobs.Get(ctx, source.ContentHash)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading source blob")
	}
	payload, err := content.FromJSON(blob.PayloadJSON)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding source payload")
	}

	issues, err := e.inspect(ctx, source, payload)
	if err != nil {
		return nil, err
	}

	editTarget := source.EditTarget
	if source.Operation == commitengine.OperationEdit {
		// an edit whose target isn't on this chain cannot satisfy the
		// edit-target rules; import it as a fresh append instead.
		onChain, err := e.targetOnChain(ctx, source.EditTarget)
		if err != nil {
			return nil, err
		}
		if !onChain {
			editTarget = ""
		}
	}

	operation := source.Operation
	if editTarget == "" {
		operation = commitengine.OperationAppend
	}
	cm, err := e.CommitEngine.Commit(ctx, commitengine.CommitParams{
		Payload: payload, Operation: operation, EditTarget: editTarget, Message: source.Message,
	})
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindImportCommit, err, "creating imported commit")
	}
	return &Result{NewCommit: cm, Issues: issues}, nil
}

func (e *Engine) inspect(ctx context.Context, source storage.Commit, payload content.Payload) ([]Issue, error) {
	var issues []Issue

	if source.Operation == commitengine.OperationEdit {
		onChain, err := e.targetOnChain(ctx, source.EditTarget)
		if err != nil {
			return nil, err
		}
		if !onChain {
			issues = append(issues, Issue{
				CommitHash: source.CommitHash,
				Reason:     "edit target " + source.EditTarget + " is not on the current chain; imported as an append",
			})
		}
	}

	if tio, ok := payload.(content.ToolIo); ok && tio.Role == content.ToolResultRole {
		found, err := e.callOnChain(ctx, tio.ToolCallID)
		if err != nil {
			return nil, err
		}
		if !found {
			issues = append(issues, Issue{
				CommitHash: source.CommitHash,
				Reason:     "tool result " + tio.ToolCallID + " has no matching tool call on the current chain",
			})
		}
	}
	return issues, nil
}

func (e *Engine) targetOnChain(ctx context.Context, target string) (bool, error) {
	head, err := e.Store.Refs.GetHead(ctx, e.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, tracterr.Wrap(tracterr.KindImportCommit, err, "resolving HEAD")
	}
	ok, err := dag.IsAncestor(ctx, e.Lookup, e.TractID, target, head)
	if err != nil {
		return false, tracterr.Wrap(tracterr.KindImportCommit, err, "checking edit target reachability")
	}
	return ok, nil
}

// callOnChain walks the current chain looking for a tool_call commit
// with the given tool_call_id.
func (e *Engine) callOnChain(ctx context.Context, toolCallID string) (bool, error) {
	head, err := e.Store.Refs.GetHead(ctx, e.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, tracterr.Wrap(tracterr.KindImportCommit, err, "resolving HEAD")
	}
	cur := head
	visited := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		cm, err := e.Store.Commits.Get(ctx, e.TractID, cur)
		if err != nil {
			return false, tracterr.Wrap(tracterr.KindImportCommit, err, "walking chain")
		}
		if cm.ContentType == content.TypeToolIO {
			blob, err := e.Store.Blobs.Get(ctx, cm.ContentHash)
			if err == nil {
				if payload, err := content.FromJSON(blob.PayloadJSON); err == nil {
					if tio, ok := payload.(content.ToolIo); ok && tio.Role == content.ToolCallRole && tio.ToolCallID == toolCallID {
						return true, nil
					}
				}
			}
		}
		cur = cm.ParentHash
	}
	return false, nil
}
