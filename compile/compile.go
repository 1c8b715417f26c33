// Package compile projects a commit chain into the linear, deduplicated,
// annotation-aware message sequence an LLM API expects, with a bounded
// compile cache evicting the least recently used entry first.
package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
	"github.com/tractvcs/tract/tracterr"
)

// Message is the compiled projection of one commit.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	CommitHash string
	Metadata   map[string]any
}

// ReorderSeverity classifies how disruptive a requested reordering is.
type ReorderSeverity string

const (
	SeverityStructural ReorderSeverity = "structural"
	SeveritySemantic   ReorderSeverity = "semantic"
)

// ReorderWarning flags a requested --order permutation that places an
// edit before its target, or that omits a compiled commit.
type ReorderWarning struct {
	CommitHash string
	Severity   ReorderSeverity
	Reason     string
}

// CompiledContext is the result of a compile.
type CompiledContext struct {
	Messages     []Message
	TokenCount   int
	CommitCount  int
	TokenSource  string
	CommitHashes []string
	Warnings     []ReorderWarning
}

// Options configures one compile call.
type Options struct {
	// AtCommit time-travels the anchor to a specific commit instead of HEAD.
	AtCommit string
	// AtTime time-travels the anchor to the last commit at or before t.
	AtTime *time.Time
	// IncludeReasoning promotes reasoning content from skip to normal
	// unless an explicit annotation already set its priority.
	IncludeReasoning bool
	// Order, if non-empty, is the commit hash sequence the compiled
	// messages should be permuted to match.
	Order []string
}

// fingerprint hashes Order into a short stable string for cache keys.
func (o Options) fingerprint() string {
	if len(o.Order) == 0 {
		return ""
	}
	h := sha256.New()
	for _, c := range o.Order {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Compiler projects one tract's commit chain into compiled contexts, with
// a bounded LRU cache keyed on (head, anchor, includeReasoning, orderFingerprint).
type Compiler struct {
	Store   *storage.Store
	Counter tokencount.TokenCounter
	TractID string

	cacheSize int
	cache     map[string]CompiledContext
	order     []string // use order, least recently used first, for eviction
}

func New(store *storage.Store, counter tokencount.TokenCounter, tractID string, cacheSize int) *Compiler {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	return &Compiler{
		Store:     store,
		Counter:   counter,
		TractID:   tractID,
		cacheSize: cacheSize,
		cache:     make(map[string]CompiledContext),
	}
}

func cacheKey(head, anchor string, opts Options) string {
	return head + "|" + anchor + "|" + fmt.Sprint(opts.IncludeReasoning) + "|" + opts.fingerprint()
}

// Invalidate drops every cache entry; called on any commit or annotation
// write since either can change a compile's output.
func (c *Compiler) Invalidate() {
	c.cache = make(map[string]CompiledContext)
	c.order = nil
}

func (c *Compiler) touch(key string, ctx CompiledContext) {
	if _, ok := c.cache[key]; ok {
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.order = append(c.order, key)
	c.cache[key] = ctx
	for len(c.cache) > c.cacheSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
}

// Compile builds the compiled context for opts, using the cache when the
// key matches a prior compile with no intervening writes.
func (c *Compiler) Compile(ctx context.Context, opts Options) (CompiledContext, error) {
	anchor, err := c.resolveAnchor(ctx, opts)
	if err != nil {
		return CompiledContext{}, err
	}
	if anchor == "" {
		return CompiledContext{TokenSource: c.Counter.Identity()}, nil
	}

	head, err := c.Store.Refs.GetHead(ctx, c.TractID)
	if err != nil && err != storage.ErrNotFound {
		return CompiledContext{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD for cache key")
	}
	key := cacheKey(head, anchor, opts)
	if cached, ok := c.cache[key]; ok {
		c.touch(key, cached)
		return cached, nil
	}

	out, err := c.compileFrom(ctx, anchor, opts)
	if err != nil {
		return CompiledContext{}, err
	}
	c.touch(key, out)
	if err := c.record(ctx, anchor, key, out); err != nil {
		return CompiledContext{}, err
	}
	return out, nil
}

// record persists a compile summary so repeat compiles across process
// restarts (and offline inspection) can see what a compile produced.
func (c *Compiler) record(ctx context.Context, anchor, key string, out CompiledContext) error {
	sum := sha256.Sum256([]byte(key))
	rec := storage.CompileRecord{
		ID:           uuid.NewString(),
		TractID:      c.TractID,
		HeadHash:     anchor,
		OptionsHash:  hex.EncodeToString(sum[:])[:16],
		MessageCount: len(out.Messages),
		TokenCount:   out.TokenCount,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(out.CommitHashes) > 0 {
		rec.RootHash = out.CommitHashes[0]
	}
	if err := c.Store.CompileRecords.Create(ctx, rec, out.CommitHashes); err != nil {
		return tracterr.Wrap(tracterr.KindCommitNotFound, err, "recording compile")
	}
	return nil
}

func (c *Compiler) resolveAnchor(ctx context.Context, opts Options) (string, error) {
	if opts.AtCommit != "" {
		if _, err := c.Store.Commits.Get(ctx, c.TractID, opts.AtCommit); err != nil {
			return "", tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving at_commit")
		}
		return opts.AtCommit, nil
	}
	if opts.AtTime != nil {
		return c.resolveAtTime(ctx, *opts.AtTime)
	}
	head, err := c.Store.Refs.GetHead(ctx, c.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
	}
	return head, nil
}

func (c *Compiler) resolveAtTime(ctx context.Context, t time.Time) (string, error) {
	head, err := c.Store.Refs.GetHead(ctx, c.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
	}
	cutoff := t.UTC().Format(time.RFC3339Nano)
	cur := head
	var best string
	for cur != "" {
		commit, err := c.Store.Commits.Get(ctx, c.TractID, cur)
		if err != nil {
			return "", tracterr.Wrap(tracterr.KindCommitNotFound, err, "walking at_time anchor")
		}
		if commit.CreatedAt <= cutoff {
			best = commit.CommitHash
			break
		}
		cur = commit.ParentHash
	}
	return best, nil
}

// chain walks first-parent from anchor to the root, returning commits in
// chronological (root-first) order.
func (c *Compiler) chain(ctx context.Context, anchor string) ([]storage.Commit, error) {
	var reversed []storage.Commit
	cur := anchor
	visited := map[string]bool{}
	for cur != "" {
		if visited[cur] {
			return nil, tracterr.New(tracterr.KindCommitNotFound, "cycle detected walking commit chain")
		}
		visited[cur] = true
		commit, err := c.Store.Commits.Get(ctx, c.TractID, cur)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "walking chain")
		}
		reversed = append(reversed, commit)
		cur = commit.ParentHash
	}
	out := make([]storage.Commit, len(reversed))
	for i, cm := range reversed {
		out[len(reversed)-1-i] = cm
	}
	return out, nil
}

// effectiveEntry is one logical message in the compiled sequence: an
// append commit, or the append's replacement edit.
type effectiveEntry struct {
	logicalHash string // the append's hash, used as the annotation/order key
	render      storage.Commit
}

func (c *Compiler) compileFrom(ctx context.Context, anchor string, opts Options) (CompiledContext, error) {
	chain, err := c.chain(ctx, anchor)
	if err != nil {
		return CompiledContext{}, err
	}

	inChain := make(map[string]bool, len(chain))
	for _, cm := range chain {
		inChain[cm.CommitHash] = true
	}

	// latest edit (by chain position, which is chronological) per target.
	latestEdit := map[string]storage.Commit{}
	for _, cm := range chain {
		if cm.Operation == "edit" && cm.EditTarget != "" {
			latestEdit[cm.EditTarget] = cm
		}
	}

	var entries []effectiveEntry
	for _, cm := range chain {
		if cm.Operation != "append" {
			continue
		}
		render := cm
		if edit, ok := latestEdit[cm.CommitHash]; ok {
			render = edit
		}
		entries = append(entries, effectiveEntry{logicalHash: cm.CommitHash, render: render})
	}

	targets := make([]string, len(entries))
	for i, e := range entries {
		targets[i] = e.logicalHash
	}
	annotations, err := c.Store.Annotations.LatestForMany(ctx, c.TractID, targets)
	if err != nil {
		return CompiledContext{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "loading annotations")
	}

	var messages []Message
	var hashes []string
	for _, e := range entries {
		priority, explicit := effectivePriority(e.render.ContentType, annotations[e.logicalHash])
		if priority == content.PrioritySkip {
			if e.render.ContentType == content.TypeReasoning && opts.IncludeReasoning && !explicit {
				// promoted below
			} else {
				continue
			}
		}

		blob, err := c.Store.Blobs.Get(ctx, e.render.ContentHash)
		if err != nil {
			return CompiledContext{}, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading blob for "+e.render.CommitHash)
		}
		msg, ok, err := projectBlob(e.render, blob)
		if err != nil {
			return CompiledContext{}, err
		}
		if !ok {
			continue // Session content: recorded in history, never compiled.
		}
		messages = append(messages, msg)
		hashes = append(hashes, e.logicalHash)
	}

	var warnings []ReorderWarning
	if len(opts.Order) > 0 {
		messages, hashes, warnings = reorder(messages, hashes, opts.Order, latestEdit)
	}

	tokenMessages := make([]tokencount.Message, len(messages))
	for i, m := range messages {
		tokenMessages[i] = tokencount.Message{Role: m.Role, Content: m.Content, Name: m.Name}
	}

	return CompiledContext{
		Messages:     messages,
		TokenCount:   c.Counter.CountMessages(tokenMessages),
		CommitCount:  len(messages),
		TokenSource:  c.Counter.Identity(),
		CommitHashes: hashes,
		Warnings:     warnings,
	}, nil
}

// effectivePriority resolves the current priority for a logical commit:
// the latest explicit annotation, or else the content type's default.
// Returns whether the annotation was explicit (present).
func effectivePriority(contentType string, ann storage.Annotation) (content.Priority, bool) {
	if ann.Priority != "" {
		return content.Priority(ann.Priority), true
	}
	switch contentType {
	case content.TypeInstruction:
		return content.PriorityPinned, false
	case content.TypeReasoning:
		return content.PrioritySkip, false
	default:
		return content.PriorityNormal, false
	}
}

// projectBlob renders one commit's content variant into a Message.
// ok=false means the content type is never emitted into compiled output
// (Session).
func projectBlob(cm storage.Commit, blob storage.Blob) (Message, bool, error) {
	var raw map[string]any
	if err := json.Unmarshal(blob.PayloadJSON, &raw); err != nil {
		return Message{}, false, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding blob payload")
	}
	text, _ := raw["text"].(string)
	role, _ := raw["role"].(string)
	name, _ := raw["name"].(string)

	switch cm.ContentType {
	case content.TypeInstruction:
		return Message{Role: "system", Content: text, CommitHash: cm.CommitHash}, true, nil
	case content.TypeDialogue:
		return Message{Role: role, Content: text, Name: name, CommitHash: cm.CommitHash}, true, nil
	case content.TypeToolIO:
		toolRole, _ := raw["role"].(string)
		toolCallID, _ := raw["tool_call_id"].(string)
		toolName, _ := raw["name"].(string)
		if toolRole == string(content.ToolCallRole) {
			args, _ := raw["arguments"].(string)
			return Message{
				Role: "assistant", Content: args, Name: toolName, ToolCallID: toolCallID,
				CommitHash: cm.CommitHash,
				Metadata:   map[string]any{"tool_call": true},
			}, true, nil
		}
		result, _ := raw["result"].(string)
		return Message{Role: "tool", Content: result, Name: toolName, ToolCallID: toolCallID, CommitHash: cm.CommitHash}, true, nil
	case content.TypeReasoning:
		return Message{Role: "assistant", Content: text, CommitHash: cm.CommitHash, Metadata: map[string]any{"reasoning": true}}, true, nil
	case content.TypeOutput:
		return Message{Role: "assistant", Content: text, CommitHash: cm.CommitHash}, true, nil
	case content.TypeArtifact:
		body, _ := raw["body"].(string)
		return Message{Role: "assistant", Content: body, CommitHash: cm.CommitHash, Metadata: map[string]any{"artifact": true}}, true, nil
	case content.TypeFreeform:
		return Message{Role: role, Content: text, CommitHash: cm.CommitHash}, true, nil
	case content.TypeSession:
		return Message{}, false, nil
	default:
		return Message{}, false, tracterr.Newf(tracterr.KindContentValidation, "unknown content_type %q", cm.ContentType)
	}
}

// reorder permutes messages/hashes to match the requested commit order,
// emitting a structural warning whenever an edit would appear before its
// target and a semantic warning for each compiled commit the order omits.
// Response chains between commits are not checked.
func reorder(messages []Message, hashes []string, order []string, latestEdit map[string]storage.Commit) ([]Message, []string, []ReorderWarning) {
	byHash := make(map[string]Message, len(hashes))
	for i, h := range hashes {
		byHash[h] = messages[i]
	}
	present := make(map[string]bool, len(order))
	for _, h := range order {
		present[h] = true
	}

	var outMsgs []Message
	var outHashes []string
	var warnings []ReorderWarning
	seen := map[string]bool{}
	for i, h := range order {
		msg, ok := byHash[h]
		if !ok || seen[h] {
			continue
		}
		seen[h] = true
		outMsgs = append(outMsgs, msg)
		outHashes = append(outHashes, h)
		if edit, ok := latestEdit[h]; ok {
			if idx := indexOf(order, edit.CommitHash); idx >= 0 && idx < i {
				warnings = append(warnings, ReorderWarning{
					CommitHash: h,
					Severity:   SeverityStructural,
					Reason:     "edit " + edit.CommitHash + " appears before its target in the requested order",
				})
			}
		}
	}
	// append anything the caller's order omitted, preserving original order,
	// flagged as a semantic warning since it breaks the requested sequence.
	for i, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		outMsgs = append(outMsgs, messages[i])
		outHashes = append(outHashes, h)
		warnings = append(warnings, ReorderWarning{
			CommitHash: h,
			Severity:   SeveritySemantic,
			Reason:     "commit omitted from requested order; appended after the requested order",
		})
	}
	return outMsgs, outHashes, warnings
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
