package hooks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tractvcs/tract/compress"
	"github.com/tractvcs/tract/gc"
	"github.com/tractvcs/tract/llm"
	"github.com/tractvcs/tract/merge"
	"github.com/tractvcs/tract/rebase"
)

// PendingCompress wraps a compression plan with its summaries filled in;
// handlers may edit summaries or guidance, retry individual groups, and
// validate before approving.
type PendingCompress struct {
	*Base
	Plan   *compress.Plan
	engine *compress.Engine
}

func NewPendingCompress(plan *compress.Plan, engine *compress.Engine, execute func(ctx context.Context) (any, error)) *PendingCompress {
	p := &PendingCompress{Base: NewBase(OpCompress, execute), Plan: plan, engine: engine}
	summaries := make([]string, len(plan.Groups))
	for i, g := range plan.Groups {
		summaries[i] = g.Summary
	}
	p.Fields["summaries"] = summaries
	p.Fields["guidance"] = plan.Guidance
	p.Fields["guidance_source"] = string(plan.GuidanceSource)
	p.Fields["group_count"] = len(plan.Groups)

	p.RegisterAction(Action{
		Name: "edit_summary", Doc: "Replace the summary text of group i.",
		Params: []string{"i", "text"}, Required: []string{"i", "text"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			i, err := argInt(args, "i")
			if err != nil {
				return nil, err
			}
			text, _ := args["text"].(string)
			return nil, p.EditSummary(i, text)
		},
	})
	p.RegisterAction(Action{
		Name: "edit_guidance", Doc: "Replace the two-stage guidance text.",
		Params: []string{"text"}, Required: []string{"text"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			p.EditGuidance(text)
			return nil, nil
		},
	})
	p.RegisterAction(Action{
		Name: "regenerate_guidance", Doc: "Ask the model for fresh guidance.",
		Fn: func(ctx context.Context, _ map[string]any) (any, error) {
			return nil, p.RegenerateGuidance(ctx)
		},
	})
	p.RegisterAction(Action{
		Name: "retry", Doc: "Re-summarize group i with steering guidance.",
		Params: []string{"i", "guidance"}, Required: []string{"i"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			i, err := argInt(args, "i")
			if err != nil {
				return nil, err
			}
			guidance, _ := args["guidance"].(string)
			return nil, p.Retry(ctx, i, guidance)
		},
	})
	p.RegisterAction(Action{
		Name: "validate", Doc: "Check every summary against its retention patterns.",
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			return p.Validate(), nil
		},
	})
	return p
}

func (p *PendingCompress) EditSummary(i int, text string) error {
	if i < 0 || i >= len(p.Plan.Groups) {
		return fmt.Errorf("hooks: no summary group %d", i)
	}
	p.Plan.Groups[i].Summary = text
	return nil
}

// EditGuidance overwrites the guidance; the source flips to user (or
// user+llm when the model authored the original).
func (p *PendingCompress) EditGuidance(text string) {
	if p.Plan.Guidance != "" && p.Plan.GuidanceSource == compress.GuidanceLLM {
		p.Plan.GuidanceSource = compress.GuidanceUserLLM
	} else {
		p.Plan.GuidanceSource = compress.GuidanceUser
	}
	p.Plan.Guidance = text
	p.Fields["guidance"] = text
	p.Fields["guidance_source"] = string(p.Plan.GuidanceSource)
}

func (p *PendingCompress) RegenerateGuidance(ctx context.Context) error {
	if err := p.engine.RegenerateGuidance(ctx, p.Plan); err != nil {
		return err
	}
	p.Fields["guidance"] = p.Plan.Guidance
	p.Fields["guidance_source"] = string(p.Plan.GuidanceSource)
	return nil
}

func (p *PendingCompress) Retry(ctx context.Context, i int, guidance string) error {
	return p.engine.RetryGroup(ctx, p.Plan, i, guidance)
}

func (p *PendingCompress) Validate() compress.ValidationResult {
	return compress.Validate(p.Plan)
}

// PendingMerge carries a conflicted merge plan; handlers supply a
// resolution text per conflict before approving.
type PendingMerge struct {
	*Base
	Plan        *merge.Plan
	Resolutions map[string]string
	client      llm.Client
}

func NewPendingMerge(plan *merge.Plan, client llm.Client, execute func(ctx context.Context) (any, error)) *PendingMerge {
	p := &PendingMerge{Base: NewBase(OpMerge, execute), Plan: plan, Resolutions: map[string]string{}, client: client}
	conflicts := make([]map[string]any, len(plan.Conflicts))
	for i, c := range plan.Conflicts {
		conflicts[i] = map[string]any{
			"target": c.Target, "conflict_type": string(c.Kind),
			"base": c.BaseText, "side_a": c.SideAText, "side_b": c.SideBText,
		}
	}
	p.Fields["conflicts"] = conflicts
	p.Fields["source_branch"] = plan.SourceBranch
	p.Fields["target_branch"] = plan.TargetBranch

	p.RegisterAction(Action{
		Name: "set_resolution", Doc: "Provide the resolved text for a conflict target.",
		Params: []string{"key", "text"}, Required: []string{"key", "text"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			text, _ := args["text"].(string)
			return nil, p.SetResolution(key, text)
		},
	})
	p.RegisterAction(Action{
		Name: "edit_resolution", Doc: "Replace an already-set resolution.",
		Params: []string{"key", "text"}, Required: []string{"key", "text"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			text, _ := args["text"].(string)
			return nil, p.EditResolution(key, text)
		},
	})
	p.RegisterAction(Action{
		Name: "retry", Doc: "Ask the model to re-resolve every conflict with steering guidance.",
		Params: []string{"guidance"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			guidance, _ := args["guidance"].(string)
			return nil, p.Retry(ctx, guidance)
		},
	})
	return p
}

func (p *PendingMerge) conflict(key string) (merge.ConflictInfo, bool) {
	for _, c := range p.Plan.Conflicts {
		if c.Target == key {
			return c, true
		}
	}
	return merge.ConflictInfo{}, false
}

func (p *PendingMerge) SetResolution(key, text string) error {
	if _, ok := p.conflict(key); !ok {
		return fmt.Errorf("hooks: no conflict for target %s", key)
	}
	p.Resolutions[key] = text
	return nil
}

func (p *PendingMerge) EditResolution(key, text string) error {
	if _, ok := p.Resolutions[key]; !ok {
		return fmt.Errorf("hooks: no resolution set for %s", key)
	}
	p.Resolutions[key] = text
	return nil
}

// Retry fills every conflict with an LLM-proposed merge of the two sides,
// replacing any resolution already set; guidance steers the resolver prompt.
func (p *PendingMerge) Retry(ctx context.Context, guidance string) error {
	if p.client == nil {
		return fmt.Errorf("hooks: no LLM client configured for conflict resolution")
	}
	for _, c := range p.Plan.Conflicts {
		var sb strings.Builder
		sb.WriteString("Two revisions of the same message conflict.\n")
		sb.WriteString("Common ancestor:\n" + c.BaseText + "\n\n")
		sb.WriteString("Side A:\n" + c.SideAText + "\n\n")
		sb.WriteString("Side B:\n" + c.SideBText + "\n\n")
		sb.WriteString("Reply with the single merged text, nothing else.")
		if guidance != "" {
			sb.WriteString("\nGuidance: " + guidance)
		}
		resp, err := p.client.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You merge conflicting revisions of conversation messages."},
			{Role: llm.RoleUser, Content: sb.String()},
		}})
		if err != nil {
			return fmt.Errorf("hooks: conflict resolution call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("hooks: conflict resolution returned no choices")
		}
		p.Resolutions[c.Target] = resp.Choices[0].Message.Content
	}
	return nil
}

// PendingGC wraps a collection plan; handlers may exclude hashes.
type PendingGC struct {
	*Base
	Plan *gc.Plan
}

func NewPendingGC(plan *gc.Plan, execute func(ctx context.Context) (any, error)) *PendingGC {
	p := &PendingGC{Base: NewBase(OpGC, execute), Plan: plan}
	hashes := make([]string, len(plan.Candidates))
	for i, c := range plan.Candidates {
		hashes[i] = c.Commit.CommitHash
	}
	p.Fields["candidates"] = hashes
	p.RegisterAction(Action{
		Name: "exclude", Doc: "Keep a commit the plan would delete.",
		Params: []string{"hash"}, Required: []string{"hash"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			hash, _ := args["hash"].(string)
			p.Exclude(hash)
			return nil, nil
		},
	})
	return p
}

func (p *PendingGC) Exclude(hash string) { p.Plan.Exclude(hash) }

// PendingRebase wraps a replay plan; handlers may exclude commits.
type PendingRebase struct {
	*Base
	Plan *rebase.Plan
}

func NewPendingRebase(plan *rebase.Plan, execute func(ctx context.Context) (any, error)) *PendingRebase {
	p := &PendingRebase{Base: NewBase(OpRebase, execute), Plan: plan}
	hashes := make([]string, len(plan.Commits))
	for i, c := range plan.Commits {
		hashes[i] = c.CommitHash
	}
	p.Fields["commits"] = hashes
	p.Fields["onto"] = plan.OntoBranch
	p.RegisterAction(Action{
		Name: "exclude", Doc: "Drop a commit from the replay plan.",
		Params: []string{"hash"}, Required: []string{"hash"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			hash, _ := args["hash"].(string)
			p.Exclude(hash)
			return nil, nil
		},
	})
	return p
}

func (p *PendingRebase) Exclude(hash string) { p.Plan.Exclude(hash) }

// PendingToolResult holds a tool result about to be committed; handlers
// may edit it or have the model shrink it before it lands in history.
type PendingToolResult struct {
	*Base
	// ResultText is the (possibly edited) text the commit will carry.
	ResultText string
	ToolName   string
	ToolCallID string
	client     llm.Client
}

func NewPendingToolResult(toolName, toolCallID, resultText string, client llm.Client, execute func(ctx context.Context) (any, error)) *PendingToolResult {
	p := &PendingToolResult{
		Base: NewBase(OpToolResult, execute), ResultText: resultText,
		ToolName: toolName, ToolCallID: toolCallID, client: client,
	}
	p.Fields["tool_name"] = toolName
	p.Fields["tool_call_id"] = toolCallID
	p.Fields["result"] = resultText
	p.RegisterAction(Action{
		Name: "edit_result", Doc: "Replace the tool result text before it is committed.",
		Params: []string{"text"}, Required: []string{"text"},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			p.EditResult(text)
			return nil, nil
		},
	})
	p.RegisterAction(Action{
		Name: "summarize", Doc: "Have the model shrink the tool result.",
		Params: []string{"instructions"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			instructions, _ := args["instructions"].(string)
			return nil, p.Summarize(ctx, instructions)
		},
	})
	return p
}

func (p *PendingToolResult) EditResult(text string) {
	p.ResultText = text
	p.Fields["result"] = text
}

func (p *PendingToolResult) Summarize(ctx context.Context, instructions string) error {
	if p.client == nil {
		return fmt.Errorf("hooks: no LLM client configured for tool-result summarization")
	}
	prompt := "Summarize this tool output, keeping identifiers and values exact:\n\n" + p.ResultText
	if instructions != "" {
		prompt += "\n\nInstructions: " + instructions
	}
	resp, err := p.client.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}})
	if err != nil {
		return fmt.Errorf("hooks: tool-result summarization call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("hooks: tool-result summarization returned no choices")
	}
	p.EditResult(resp.Choices[0].Message.Content)
	return nil
}

func argInt(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("hooks: argument %q is not an integer", key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("hooks: argument %q is not an integer", key)
	}
}
