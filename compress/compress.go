// Package compress collapses runs of non-pinned commits into summary
// commits, preserving pinned commits verbatim and guaranteeing that every
// retention pattern attached to an important commit survives into the
// summary that replaces it.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/annotate"
	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/llm"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// Params configures one compression run.
type Params struct {
	// From and To bound the commit range (inclusive, chronological);
	// both default to the full [root, HEAD] range when empty.
	From string
	To   string
	// TargetTokens is the desired compiled size after compression; 0
	// means "as small as the summaries come out".
	TargetTokens int
	// Content supplies the summary text directly (manual mode); only
	// valid when the range collapses to a single group.
	Content string
	// Preserve lists commit hashes to keep verbatim in addition to
	// pinned ones.
	Preserve []string
	// Instructions is caller guidance folded into every summary prompt.
	Instructions string
	// SystemPrompt overrides the default summarizer system message.
	SystemPrompt string
	// TwoStage asks the model for guidance first, then feeds that
	// guidance into each summary prompt.
	TwoStage bool
}

// GuidanceSource records who authored the guidance on a two-stage run.
type GuidanceSource string

const (
	GuidanceLLM     GuidanceSource = "llm"
	GuidanceUser    GuidanceSource = "user"
	GuidanceUserLLM GuidanceSource = "user+llm"
)

// Group is one summarizable run of commits between preserve boundaries.
type Group struct {
	Commits []storage.Commit
	// RetentionInstructions aggregates the natural-language retention
	// guidance of every important commit in the group.
	RetentionInstructions []string
	// Patterns are the literal/regex strings that MUST appear verbatim
	// in this group's summary.
	Patterns []annotate.RetentionPattern
	// Summary holds the produced (or manually supplied) summary text.
	Summary string
}

// segment is one slot in the rebuilt chain: either a summary group or a
// preserved commit kept verbatim.
type segment struct {
	group     *Group
	preserved *storage.Commit
}

// Plan is the side-effect-free output of Plan: groups, preserved
// commits, and the chain layout Execute will rebuild.
type Plan struct {
	Params         Params
	Range          []storage.Commit
	Groups         []*Group
	Preserved      []storage.Commit
	Guidance       string
	GuidanceSource GuidanceSource

	sequence   []segment
	tail       []storage.Commit // commits after To, replayed on top unchanged
	baseParent string           // parent of the first commit in range
	headBefore string
	branch     string
	attached   bool
}

// Validation failure detail for one missing pattern.
type MissingPattern struct {
	GroupIndex int
	Pattern    string
	Mode       string
}

// ValidationResult reports whether every retention pattern appears in its
// group's summary.
type ValidationResult struct {
	OK      bool
	Missing []MissingPattern
}

// Result is the outcome of an executed compression.
type Result struct {
	SourceCommits    []string
	SummaryCommits   []string
	PreservedCommits []string
	NewHead          string
	EventID          string
}

// Engine plans and executes compressions for one tract.
type Engine struct {
	Store        *storage.Store
	CommitEngine *commitengine.Engine
	Annotations  *annotate.Engine
	Client       llm.Client
	TractID      string
	Now          func() time.Time
	// MaxRetries bounds the attempt -> validate -> steer -> retry loop.
	MaxRetries int
}

func New(store *storage.Store, ce *commitengine.Engine, ann *annotate.Engine, client llm.Client, tractID string) *Engine {
	return &Engine{
		Store: store, CommitEngine: ce, Annotations: ann, Client: client,
		TractID: tractID, Now: time.Now, MaxRetries: 3,
	}
}

func (e *Engine) now() string { return e.Now().UTC().Format(time.RFC3339Nano) }

// Plan walks the range, splits it into groups at pinned/preserve
// boundaries, and collects retention requirements. No commits are
// written and no LLM calls happen here.
func (e *Engine) Plan(ctx context.Context, p Params) (*Plan, error) {
	head, err := e.Store.Refs.GetHead(ctx, e.TractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, tracterr.New(tracterr.KindCompression, "nothing to compress: no commits")
		}
		return nil, tracterr.Wrap(tracterr.KindCompression, err, "resolving HEAD")
	}
	to := p.To
	if to == "" {
		to = head
	}

	chain, err := e.chainTo(ctx, head)
	if err != nil {
		return nil, err
	}

	fromIdx, toIdx := 0, -1
	foundFrom := p.From == ""
	for i, cm := range chain {
		if p.From != "" && cm.CommitHash == p.From {
			fromIdx = i
			foundFrom = true
		}
		if cm.CommitHash == to {
			toIdx = i
		}
	}
	if !foundFrom {
		return nil, tracterr.Newf(tracterr.KindCommitNotFound, "from commit %s is not on the current chain", p.From)
	}
	if toIdx < 0 {
		return nil, tracterr.Newf(tracterr.KindCommitNotFound, "to commit %s is not on the current chain", to)
	}
	if fromIdx > toIdx {
		return nil, tracterr.New(tracterr.KindCompression, "from commit is later than to commit")
	}
	rng := chain[fromIdx : toIdx+1]
	tail := chain[toIdx+1:]

	preserveSet := map[string]bool{}
	for _, h := range p.Preserve {
		preserveSet[h] = true
	}

	plan := &Plan{
		Params:     p,
		Range:      rng,
		tail:       tail,
		baseParent: rng[0].ParentHash,
		headBefore: head,
	}
	branch, attached, err := e.Store.Refs.CurrentBranch(ctx, e.TractID)
	if err != nil {
		return nil, tracterr.Wrap(tracterr.KindCompression, err, "reading current branch")
	}
	plan.branch = branch
	plan.attached = attached

	var current *Group
	flush := func() {
		if current != nil && len(current.Commits) > 0 {
			plan.Groups = append(plan.Groups, current)
			plan.sequence = append(plan.sequence, segment{group: current})
		}
		current = nil
	}

	for _, cm := range rng {
		priority, retention, err := e.Annotations.Latest(ctx, cm.CommitHash)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindCompression, err, "reading priority for "+cm.CommitHash)
		}
		switch {
		case priority == content.PriorityPinned || preserveSet[cm.CommitHash]:
			flush()
			preserved := cm
			plan.Preserved = append(plan.Preserved, preserved)
			plan.sequence = append(plan.sequence, segment{preserved: &preserved})
		case priority == content.PrioritySkip:
			// skip-annotated commits are excluded from compression input.
		default:
			if current == nil {
				current = &Group{}
			}
			current.Commits = append(current.Commits, cm)
			if priority == content.PriorityImportant && retention != nil {
				if retention.Instructions != "" {
					current.RetentionInstructions = append(current.RetentionInstructions, retention.Instructions)
				}
				current.Patterns = append(current.Patterns, retention.Patterns...)
			}
		}
	}
	flush()

	if len(plan.Groups) == 0 {
		return nil, tracterr.New(tracterr.KindCompression, "nothing to compress: every commit in range is pinned, preserved, or skipped")
	}
	if p.Content != "" && len(plan.Groups) > 1 {
		return nil, tracterr.Newf(tracterr.KindCompression, "manual content requires a single group; range splits into %d", len(plan.Groups))
	}
	return plan, nil
}

// chainTo walks first-parent from tip to root, returning chronological order.
func (e *Engine) chainTo(ctx context.Context, tip string) ([]storage.Commit, error) {
	var reversed []storage.Commit
	cur := tip
	visited := map[string]bool{}
	for cur != "" {
		if visited[cur] {
			return nil, tracterr.New(tracterr.KindCompression, "cycle detected walking commit chain")
		}
		visited[cur] = true
		cm, err := e.Store.Commits.Get(ctx, e.TractID, cur)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "walking chain")
		}
		reversed = append(reversed, cm)
		cur = cm.ParentHash
	}
	out := make([]storage.Commit, len(reversed))
	for i, cm := range reversed {
		out[len(reversed)-1-i] = cm
	}
	return out, nil
}

// Summarize fills every group's Summary: manual content for a single
// group, otherwise one LLM call per group (plus one guidance call first
// in two-stage mode). Safe to call again after editing guidance.
func (e *Engine) Summarize(ctx context.Context, plan *Plan) error {
	if plan.Params.TwoStage && plan.Guidance == "" {
		guidance, err := e.generateGuidance(ctx, plan)
		if err != nil {
			return err
		}
		plan.Guidance = guidance
		plan.GuidanceSource = GuidanceLLM
	}

	if plan.Params.Content != "" && len(plan.Groups) == 1 {
		plan.Groups[0].Summary = plan.Params.Content
		return nil
	}

	for i, g := range plan.Groups {
		summary, err := e.summarizeGroup(ctx, plan, g, "")
		if err != nil {
			return tracterr.Wrap(tracterr.KindCompression, err, fmt.Sprintf("summarizing group %d", i))
		}
		g.Summary = summary
	}
	return nil
}

// RegenerateGuidance re-runs the guidance call, replacing plan.Guidance.
func (e *Engine) RegenerateGuidance(ctx context.Context, plan *Plan) error {
	guidance, err := e.generateGuidance(ctx, plan)
	if err != nil {
		return err
	}
	plan.Guidance = guidance
	plan.GuidanceSource = GuidanceLLM
	return nil
}

func (e *Engine) generateGuidance(ctx context.Context, plan *Plan) (string, error) {
	if e.Client == nil {
		return "", tracterr.New(tracterr.KindCompression, "two-stage compression requires an LLM client")
	}
	var sb strings.Builder
	for _, g := range plan.Groups {
		sb.WriteString(e.transcript(ctx, g))
	}
	resp, err := e.Client.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You plan summaries of conversation history. Reply with a short list of what the summary must cover: decisions, facts, open questions, and constraints."},
		{Role: llm.RoleUser, Content: sb.String()},
	}})
	if err != nil {
		return "", tracterr.Wrap(tracterr.KindCompression, err, "guidance call failed")
	}
	if len(resp.Choices) == 0 {
		return "", tracterr.New(tracterr.KindCompression, "guidance call returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// RetryGroup re-summarizes a single group with extra steering guidance,
// used by the validate -> steer -> retry loop.
func (e *Engine) RetryGroup(ctx context.Context, plan *Plan, i int, steer string) error {
	if i < 0 || i >= len(plan.Groups) {
		return tracterr.Newf(tracterr.KindCompression, "no group %d", i)
	}
	summary, err := e.summarizeGroup(ctx, plan, plan.Groups[i], steer)
	if err != nil {
		return err
	}
	plan.Groups[i].Summary = summary
	return nil
}

// SummarizeValidated runs Summarize, then the retry loop: any group whose
// summary drops a retention pattern is re-attempted with a steering note
// naming the missing strings, up to MaxRetries times.
func (e *Engine) SummarizeValidated(ctx context.Context, plan *Plan) error {
	if err := e.Summarize(ctx, plan); err != nil {
		return err
	}
	retries := e.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	var result ValidationResult
	for attempt := 0; attempt < retries; attempt++ {
		result = Validate(plan)
		if result.OK {
			return nil
		}
		byGroup := map[int][]string{}
		for _, m := range result.Missing {
			byGroup[m.GroupIndex] = append(byGroup[m.GroupIndex], m.Pattern)
		}
		for i, missing := range byGroup {
			steer := "The previous summary omitted required strings. Include verbatim: " + strings.Join(missing, "; ")
			if err := e.RetryGroup(ctx, plan, i, steer); err != nil {
				return err
			}
		}
	}
	result = Validate(plan)
	if result.OK {
		return nil
	}
	err := tracterr.Newf(tracterr.KindRetryExhausted, "compression validation failed after %d attempts", retries)
	err.Fields = map[string]any{"attempts": retries, "missing": result.Missing}
	return err
}

func (e *Engine) summarizeGroup(ctx context.Context, plan *Plan, g *Group, steer string) (string, error) {
	if e.Client == nil {
		return "", tracterr.New(tracterr.KindCompression, "compression requires an LLM client (or manual content)")
	}
	system := plan.Params.SystemPrompt
	if system == "" {
		system = "You compress conversation history. Produce a concise summary preserving decisions, facts, constraints, and open questions."
	}

	var sb strings.Builder
	sb.WriteString(e.transcript(ctx, g))
	if plan.Params.Instructions != "" {
		sb.WriteString("\nInstructions: " + plan.Params.Instructions + "\n")
	}
	if plan.Guidance != "" {
		sb.WriteString("\nGuidance:\n" + plan.Guidance + "\n")
	}
	for _, ri := range g.RetentionInstructions {
		sb.WriteString("\nRetention: " + ri + "\n")
	}
	if len(g.Patterns) > 0 {
		sb.WriteString("\nThe summary MUST contain the following strings verbatim:\n")
		for _, pat := range g.Patterns {
			sb.WriteString("- " + pat.Pattern + "\n")
		}
	}
	if steer != "" {
		sb.WriteString("\n" + steer + "\n")
	}
	if plan.Params.TargetTokens > 0 {
		fmt.Fprintf(&sb, "\nKeep the summary under roughly %d tokens.\n", plan.Params.TargetTokens)
	}

	resp, err := e.Client.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}})
	if err != nil {
		return "", tracterr.Wrap(tracterr.KindCompression, err, "summary call failed")
	}
	if len(resp.Choices) == 0 {
		return "", tracterr.New(tracterr.KindCompression, "summary call returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// transcript renders a group's commits as "[role]: text" lines for the
// summarization prompt.
func (e *Engine) transcript(ctx context.Context, g *Group) string {
	var sb strings.Builder
	for _, cm := range g.Commits {
		blob, err := e.Store.Blobs.Get(ctx, cm.ContentHash)
		if err != nil {
			continue
		}
		payload, err := content.FromJSON(blob.PayloadJSON)
		if err != nil {
			continue
		}
		role := roleOf(payload)
		fmt.Fprintf(&sb, "[%s]: %s\n\n", role, content.PrimaryText(payload))
	}
	return sb.String()
}

func roleOf(p content.Payload) string {
	switch v := p.(type) {
	case content.Instruction:
		return "system"
	case content.Dialogue:
		return string(v.Role)
	case content.ToolIo:
		return string(v.Role)
	case content.Freeform:
		return string(v.Role)
	case content.Output, content.Reasoning:
		return "assistant"
	default:
		return "system"
	}
}

// Validate checks every group's summary against its retention patterns.
func Validate(plan *Plan) ValidationResult {
	var missing []MissingPattern
	for i, g := range plan.Groups {
		for _, pat := range g.Patterns {
			ok := false
			switch pat.Mode {
			case "regex":
				re, err := regexp.Compile(pat.Pattern)
				ok = err == nil && re.MatchString(g.Summary)
			default:
				ok = strings.Contains(g.Summary, pat.Pattern)
			}
			if !ok {
				missing = append(missing, MissingPattern{GroupIndex: i, Pattern: pat.Pattern, Mode: pat.Mode})
			}
		}
	}
	return ValidationResult{OK: len(missing) == 0, Missing: missing}
}

// Execute rebuilds the chain: summaries and preserved commits in original
// order on top of the range's parent, then any commits after the range
// replayed unchanged. Summaries must already be filled and validated.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if v := Validate(plan); !v.OK {
		err := tracterr.New(tracterr.KindCompression, "summaries are missing retention patterns")
		err.Fields = map[string]any{"missing": v.Missing}
		return nil, err
	}
	for i, g := range plan.Groups {
		if g.Summary == "" {
			return nil, tracterr.Newf(tracterr.KindCompression, "group %d has no summary; call Summarize first", i)
		}
	}

	now := e.now()
	if err := e.Store.Refs.SetRef(ctx, e.TractID, storage.RefOrigHead, plan.headBefore, now); err != nil {
		return nil, tracterr.Wrap(tracterr.KindCompression, err, "recording ORIG_HEAD")
	}
	if err := e.Store.Refs.DetachHead(ctx, e.TractID, plan.baseParent, now); err != nil {
		return nil, tracterr.Wrap(tracterr.KindCompression, err, "detaching HEAD to rebuild base")
	}

	result := &Result{}
	for _, cm := range plan.Range {
		result.SourceCommits = append(result.SourceCommits, cm.CommitHash)
	}

	abort := func() {
		if plan.attached {
			_ = e.Store.Refs.SetBranch(ctx, e.TractID, plan.branch, plan.headBefore, e.now())
			_ = e.Store.Refs.AttachHead(ctx, e.TractID, plan.branch, e.now())
		} else {
			_ = e.Store.Refs.DetachHead(ctx, e.TractID, plan.headBefore, e.now())
		}
	}

	newHead := plan.baseParent
	for _, seg := range plan.sequence {
		if seg.preserved != nil {
			cm, err := e.recommit(ctx, *seg.preserved)
			if err != nil {
				abort()
				return nil, err
			}
			// the preserved commit gets a new hash; its priority follows it.
			if pr, ret, aerr := e.Annotations.Latest(ctx, seg.preserved.CommitHash); aerr == nil && pr == content.PriorityPinned {
				if err := e.Annotations.Annotate(ctx, cm.CommitHash, pr, "preserved through compression", ret); err != nil {
					abort()
					return nil, err
				}
			}
			result.PreservedCommits = append(result.PreservedCommits, cm.CommitHash)
			newHead = cm.CommitHash
			continue
		}
		g := seg.group
		sources := make([]string, len(g.Commits))
		for i, cm := range g.Commits {
			sources[i] = cm.CommitHash
		}
		cm, err := e.CommitEngine.Commit(ctx, commitengine.CommitParams{
			Payload:  content.Freeform{Text: g.Summary, Role: content.RoleAssistant},
			Message:  "compression summary",
			Metadata: map[string]any{"summary_of": sources},
		})
		if err != nil {
			abort()
			return nil, tracterr.Wrap(tracterr.KindCompression, err, "committing summary")
		}
		result.SummaryCommits = append(result.SummaryCommits, cm.CommitHash)
		newHead = cm.CommitHash
	}

	for _, cm := range plan.tail {
		recommitted, err := e.recommit(ctx, cm)
		if err != nil {
			abort()
			return nil, err
		}
		newHead = recommitted.CommitHash
	}

	if plan.attached {
		if err := e.Store.Refs.SetBranch(ctx, e.TractID, plan.branch, newHead, e.now()); err != nil {
			abort()
			return nil, tracterr.Wrap(tracterr.KindCompression, err, "advancing branch to compressed chain")
		}
		if err := e.Store.Refs.AttachHead(ctx, e.TractID, plan.branch, e.now()); err != nil {
			return nil, tracterr.Wrap(tracterr.KindCompression, err, "reattaching HEAD")
		}
	}
	result.NewHead = newHead

	eventID := uuid.NewString()
	params := map[string]any{
		"from": plan.Params.From, "to": plan.Params.To,
		"target_tokens": plan.Params.TargetTokens,
		"two_stage":     plan.Params.TwoStage,
		"instructions":  plan.Params.Instructions,
	}
	if plan.Guidance != "" {
		params["guidance_source"] = string(plan.GuidanceSource)
	}
	resultJSON := map[string]any{
		"source_commits":    result.SourceCommits,
		"summary_commits":   result.SummaryCommits,
		"preserved_commits": result.PreservedCommits,
		"new_head":          result.NewHead,
	}
	if err := e.recordEvent(ctx, eventID, params, resultJSON, result); err != nil {
		return nil, err
	}
	result.EventID = eventID
	return result, nil
}

// recommit recreates a commit's payload on top of the chain being built
// (HEAD is the in-progress tip); the content hash is unchanged, the
// commit hash is new.
func (e *Engine) recommit(ctx context.Context, cm storage.Commit) (storage.Commit, error) {
	blob, err := e.Store.Blobs.Get(ctx, cm.ContentHash)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindBlobNotFound, err, "loading blob for "+cm.CommitHash)
	}
	payload, err := content.FromJSON(blob.PayloadJSON)
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindContentValidation, err, "decoding payload for "+cm.CommitHash)
	}
	out, err := e.CommitEngine.Commit(ctx, commitengine.CommitParams{
		Payload: payload, Operation: cm.Operation, EditTarget: cm.EditTarget, Message: cm.Message,
	})
	if err != nil {
		return storage.Commit{}, tracterr.Wrap(tracterr.KindCompression, err, "recreating commit "+cm.CommitHash)
	}
	return out, nil
}

func (e *Engine) recordEvent(ctx context.Context, eventID string, params, resultJSON map[string]any, result *Result) error {
	paramsStr, _ := jsonString(params)
	resultStr, _ := jsonString(resultJSON)
	if err := e.Store.OperationEvents.Create(ctx, storage.OperationEvent{
		ID: eventID, TractID: e.TractID, Operation: "compress",
		ParamsJSON: paramsStr, ResultJSON: resultStr, CreatedAt: e.now(),
	}); err != nil {
		return tracterr.Wrap(tracterr.KindCompression, err, "recording compression event")
	}
	for _, h := range result.SourceCommits {
		if err := e.Store.OperationEvents.LinkCommit(ctx, eventID, h, storage.OperationCommitRoleInput); err != nil {
			return tracterr.Wrap(tracterr.KindCompression, err, "linking source commit")
		}
	}
	for _, h := range append(append([]string{}, result.SummaryCommits...), result.PreservedCommits...) {
		if err := e.Store.OperationEvents.LinkCommit(ctx, eventID, h, storage.OperationCommitRoleOutput); err != nil {
			return tracterr.Wrap(tracterr.KindCompression, err, "linking output commit")
		}
	}
	return nil
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
