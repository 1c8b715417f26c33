// Package commitengine validates, hashes, and persists commits, updating
// HEAD and enforcing the token-budget policy.
package commitengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tractvcs/tract/config"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
	"github.com/tractvcs/tract/tracterr"
)

const (
	OperationAppend = "append"
	OperationEdit   = "edit"
)

// BudgetCallback is invoked when TokenBudget.Action == callback; it may
// inspect (current, max) and return an error to reject the commit.
type BudgetCallback func(current, max int) error

// Engine owns commit creation for one tract.
type Engine struct {
	Store    *storage.Store
	Counter  tokencount.TokenCounter
	TractID  string
	Budget   *config.TokenBudgetConfig
	OnBudget BudgetCallback
	Now      func() time.Time
}

func New(store *storage.Store, counter tokencount.TokenCounter, tractID string) *Engine {
	return &Engine{Store: store, Counter: counter, TractID: tractID, Now: time.Now}
}

// withStore returns a shallow copy of e bound to a different *storage.Store,
// used by Batch to run a sequence of commits inside one transaction.
func (e *Engine) withStore(s *storage.Store) *Engine {
	cp := *e
	cp.Store = s
	return &cp
}

// CommitParams describes one commit call.
type CommitParams struct {
	Payload    content.Payload
	Operation  string // "append" (default) or "edit"
	EditTarget string // required when Operation == "edit"
	Message    string
	Metadata   map[string]any
	// GenerationConfig snapshots the LLM parameters that produced this
	// content, when it came from a model call.
	GenerationConfig map[string]any
}

// Commit validates payload, computes its hash, inserts the blob if
// missing, computes the commit hash against current HEAD, writes the
// commit row, and advances HEAD.
func (e *Engine) Commit(ctx context.Context, p CommitParams) (storage.Commit, error) {
	if p.Operation == "" {
		p.Operation = OperationAppend
	}
	if p.Operation != OperationAppend && p.Operation != OperationEdit {
		return storage.Commit{}, tracterr.Newf(tracterr.KindContentValidation, "unknown operation %q", p.Operation)
	}

	if err := content.Validate(p.Payload); err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "payload failed validation")
	}
	if err := content.ValidateSchema(p.Payload); err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "payload failed schema validation")
	}

	if p.Operation == OperationEdit {
		if p.EditTarget == "" {
			return storage.Commit{}, tracterr.New(tracterr.KindEditTarget, "edit requires edit_target")
		}
		target, err := e.Store.Commits.Get(ctx, e.TractID, p.EditTarget)
		if err != nil {
			if err == storage.ErrNotFound {
				return storage.Commit{}, tracterr.Newf(tracterr.KindEditTarget, "edit target %s not found", p.EditTarget)
			}
			return storage.Commit{}, tracterr.Wrap(tracterr.KindEditTarget, err, "looking up edit target")
		}
		if target.Operation != OperationAppend {
			return storage.Commit{}, tracterr.Newf(tracterr.KindEditTarget, "edit target %s is not an append commit (chained edits are forbidden)", p.EditTarget)
		}
	}

	payloadMap := p.Payload.ToMap()
	contentHash, err := content.ContentHash(payloadMap)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "hashing payload")
	}

	payloadJSON, err := content.CanonicalJSON(payloadMap)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "canonicalizing payload")
	}

	now := e.Now().UTC()
	nowISO := now.Format(time.RFC3339Nano)

	tokenCount := e.Counter.CountMessages(projectionForCount(p.Payload))

	exists, err := e.Store.Blobs.Exists(ctx, contentHash)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "checking blob existence")
	}
	if !exists {
		if err := e.Store.Blobs.Create(ctx, storage.Blob{
			ContentHash: contentHash,
			PayloadJSON: payloadJSON,
			ByteSize:    len(payloadJSON),
			TokenCount:  tokenCount,
			CreatedAt:   nowISO,
		}); err != nil {
			return storage.Commit{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "creating blob")
		}
	}

	parentHash, err := e.Store.Refs.GetHead(ctx, e.TractID)
	if err != nil && err != storage.ErrNotFound {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
	}

	if err := e.checkBudget(ctx, parentHash, tokenCount); err != nil {
		return storage.Commit{}, err
	}

	hash, err := content.CommitHash(content.CommitHashInput{
		ContentHash:  contentHash,
		ParentHash:   parentHash,
		ContentType:  p.Payload.ContentType(),
		Operation:    p.Operation,
		TimestampISO: nowISO,
		ReplyTo:      p.EditTarget,
	})
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "hashing commit")
	}

	var metadataJSON string
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "encoding metadata")
		}
		metadataJSON = string(b)
	}
	var genConfigJSON string
	if len(p.GenerationConfig) > 0 {
		b, err := json.Marshal(p.GenerationConfig)
		if err != nil {
			return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "encoding generation config")
		}
		genConfigJSON = string(b)
	}

	c := storage.Commit{
		CommitHash:   hash,
		TractID:      e.TractID,
		ParentHash:   parentHash,
		ContentHash:  contentHash,
		ContentType:  p.Payload.ContentType(),
		Operation:    p.Operation,
		EditTarget:   p.EditTarget,
		Message:              p.Message,
		TokenCount:           tokenCount,
		MetadataJSON:         metadataJSON,
		GenerationConfigJSON: genConfigJSON,
		CreatedAt:            nowISO,
	}

	existing, err := e.Store.Commits.Get(ctx, e.TractID, hash)
	if err == nil {
		// identical inputs at the identical parent produce the identical
		// hash; treat as idempotent rather than a DuplicateRef failure.
		return existing, nil
	} else if err != storage.ErrNotFound {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "checking for existing commit")
	}

	if err := e.Store.Commits.Create(ctx, c); err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindDuplicateRef, err, "creating commit row")
	}
	if err := e.Store.Refs.UpdateHead(ctx, e.TractID, hash, nowISO); err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "updating HEAD")
	}

	return c, nil
}

// checkBudget compares the compiled total (current chain plus the new
// commit) against the configured budget.
func (e *Engine) checkBudget(ctx context.Context, parentHash string, tokenCount int) error {
	if e.Budget == nil {
		return nil
	}
	total := tokenCount
	cur := parentHash
	visited := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		cm, err := e.Store.Commits.Get(ctx, e.TractID, cur)
		if err != nil {
			break
		}
		total += cm.TokenCount
		cur = cm.ParentHash
	}
	if total <= e.Budget.Max {
		return nil
	}
	tokenCount = total
	switch e.Budget.Action {
	case config.BudgetWarn:
		slog.Warn("tract: commit exceeds token budget", "current", tokenCount, "max", e.Budget.Max)
		return nil
	case config.BudgetReject:
		return tracterr.New(tracterr.KindBudgetExceeded, fmt.Sprintf("token count %d exceeds budget %d", tokenCount, e.Budget.Max))
	case config.BudgetCallback:
		if e.OnBudget == nil {
			return nil
		}
		if err := e.OnBudget(tokenCount, e.Budget.Max); err != nil {
			return tracterr.Wrap(tracterr.KindBudgetExceeded, err, "budget callback rejected commit")
		}
		return nil
	default:
		return nil
	}
}

// projectionForCount builds the minimal message list CountMessages needs
// to price a single payload before it's woven into the full compile.
func projectionForCount(p content.Payload) []tokencount.Message {
	m := p.ToMap()
	text, _ := m["text"].(string)
	role, _ := m["role"].(string)
	return []tokencount.Message{{Role: role, Content: text}}
}

// Batch runs fn against an Engine bound to a single storage transaction;
// any error rolls back every commit/ref write fn performed.
func (e *Engine) Batch(ctx context.Context, fn func(tx *Engine) error) error {
	return e.Store.Batch(ctx, func(txStore *storage.Store) error {
		return fn(e.withStore(txStore))
	})
}

// EditHistory returns every edit of targetHash plus the target itself,
// most recent first, for the edit_history(h) query.
func (e *Engine) EditHistory(ctx context.Context, targetHash string) ([]storage.Commit, error) {
	target, err := e.Store.Commits.Get(ctx, e.TractID, targetHash)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "looking up edit history target")
	}
	edits, err := e.Store.Commits.EditsOf(ctx, e.TractID, targetHash)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "listing edits")
	}
	return append(edits, target), nil
}
