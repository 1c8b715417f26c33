// Package annotate implements the append-only priority log: annotate(),
// latest-wins queries, and the pinned/important/normal/skip counts
// helper.
package annotate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// RetentionPattern is a literal substring or regex that must survive
// compression of an `important` commit.
type RetentionPattern struct {
	Pattern string `json:"pattern"`
	Mode    string `json:"mode"` // "literal" | "regex"
}

// Retention carries the optional fields meaningful only on `important`.
type Retention struct {
	Instructions string             `json:"instructions,omitempty"`
	Patterns     []RetentionPattern `json:"patterns,omitempty"`
}

// Engine appends annotation rows and answers latest-wins queries for one tract.
type Engine struct {
	Store   *storage.Store
	TractID string
	Now     func() time.Time
}

func New(store *storage.Store, tractID string) *Engine {
	return &Engine{Store: store, TractID: tractID, Now: time.Now}
}

// Annotate appends a new priority row for targetHash. retention is
// ignored unless priority == important.
func (e *Engine) Annotate(ctx context.Context, targetHash string, priority content.Priority, reason string, retention *Retention) error {
	if _, err := e.Store.Commits.Get(ctx, e.TractID, targetHash); err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "annotation target "+targetHash)
	}
	switch priority {
	case content.PrioritySkip, content.PriorityNormal, content.PriorityImportant, content.PriorityPinned:
	default:
		return tracterr.Newf(tracterr.KindContentValidation, "unknown priority %q", priority)
	}

	a := storage.Annotation{
		TractID:    e.TractID,
		TargetHash: targetHash,
		Priority:   string(priority),
		Reason:     reason,
		CreatedAt:  e.Now().UTC().Format(time.RFC3339Nano),
	}
	if priority == content.PriorityImportant && retention != nil {
		a.RetentionInstructions = retention.Instructions
		if len(retention.Patterns) > 0 {
			b, err := json.Marshal(retention.Patterns)
			if err != nil {
				return tracterr.Wrap(tracterr.KindContentValidation, err, "encoding retention patterns")
			}
			a.RetentionPatternsJSON = string(b)
		}
	}
	if err := e.Store.Annotations.Append(ctx, a); err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "appending annotation")
	}
	return nil
}

// Latest returns the current priority (and retention, if any) for
// targetHash, falling back to the content type's default priority when
// no annotation row exists.
func (e *Engine) Latest(ctx context.Context, targetHash string) (content.Priority, *Retention, error) {
	ann, err := e.Store.Annotations.Latest(ctx, e.TractID, targetHash)
	if err == storage.ErrNotFound {
		c, cerr := e.Store.Commits.Get(ctx, e.TractID, targetHash)
		if cerr != nil {
			return "", nil, tracterr.Wrap(tracterr.KindCommitNotFound, cerr, "resolving default priority")
		}
		return defaultPriority(c.ContentType), nil, nil
	}
	if err != nil {
		return "", nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "loading annotation")
	}
	var ret *Retention
	if ann.Priority == string(content.PriorityImportant) {
		ret = &Retention{Instructions: ann.RetentionInstructions}
		if ann.RetentionPatternsJSON != "" {
			json.Unmarshal([]byte(ann.RetentionPatternsJSON), &ret.Patterns)
		}
	}
	return content.Priority(ann.Priority), ret, nil
}

func defaultPriority(contentType string) content.Priority {
	switch contentType {
	case content.TypeInstruction:
		return content.PriorityPinned
	case content.TypeReasoning:
		return content.PrioritySkip
	default:
		return content.PriorityNormal
	}
}

// Counts returns {pinned, important, normal, skip} across every
// annotated commit in the tract.
func (e *Engine) Counts(ctx context.Context) (map[string]int, error) {
	counts, err := e.Store.Annotations.Counts(ctx, e.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "annotation counts")
	}
	return counts, nil
}
