package tract

import (
	"context"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/hooks"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tracterr"
)

// CommitToolResult routes a tool result through the hook system before
// it lands in history: handlers may edit or summarize the result text on
// the pending. With review=true the caller owns the pending.
func (t *Tract) CommitToolResult(ctx context.Context, toolName, toolCallID, result string, review bool) (storage.Commit, *hooks.PendingToolResult, *hooks.Rejection, error) {
	var pending *hooks.PendingToolResult
	pending = hooks.NewPendingToolResult(toolName, toolCallID, result, t.llm, func(ctx context.Context) (any, error) {
		cm, err := t.Commit(ctx, commitengine.CommitParams{
			Payload: content.ToolIo{
				Role: content.ToolResultRole, Name: toolName,
				Result: pending.ResultText, ToolCallID: toolCallID,
			},
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	})

	if review {
		return storage.Commit{}, pending, nil, nil
	}
	out, rej, err := t.route(ctx, pending)
	if err != nil {
		t.metrics.IncError("tool_result")
		return storage.Commit{}, nil, nil, err
	}
	if rej != nil {
		return storage.Commit{}, pending, rej, nil
	}
	return out.(storage.Commit), nil, nil, nil
}

// Policy fires a hookable operation whenever its condition holds after a
// commit. The condition runs in the same expression sandbox dynamic
// operations use, against the tract handle and the fresh commit's fields.
type Policy struct {
	Name      string
	Condition string
	// Fields is extra plan data carried on the fired pending.
	Fields map[string]any
	// OnRejection, when set, observes the rejection so the policy can
	// adjust its own state for future firings.
	OnRejection func(*hooks.Rejection)
}

// AddPolicy validates and installs a policy.
func (t *Tract) AddPolicy(p Policy) error {
	if p.Name == "" {
		return tracterr.New(tracterr.KindPolicyConfig, "policy needs a name")
	}
	if p.Condition == "" {
		return tracterr.New(tracterr.KindPolicyConfig, "policy needs a condition expression")
	}
	for _, existing := range t.policies {
		if existing.Name == p.Name {
			return tracterr.Newf(tracterr.KindPolicyConfig, "policy %q already exists", p.Name)
		}
	}
	t.policies = append(t.policies, p)
	return nil
}

// RemovePolicy uninstalls a policy by name.
func (t *Tract) RemovePolicy(name string) {
	for i, p := range t.policies {
		if p.Name == name {
			t.policies = append(t.policies[:i], t.policies[i+1:]...)
			return
		}
	}
}

// evaluatePolicies runs every policy condition against the fresh commit
// and fires the policy operation for those that hold.
func (t *Tract) evaluatePolicies(ctx context.Context, cm storage.Commit) error {
	for i := range t.policies {
		p := &t.policies[i]
		env := map[string]any{
			"tract": &tractHandle{t: t, ctx: ctx},
			"commit": map[string]any{
				"hash":         cm.CommitHash,
				"content_type": cm.ContentType,
				"operation":    cm.Operation,
				"token_count":  float64(cm.TokenCount),
			},
		}
		hit, err := hooks.Eval(p.Condition, env)
		if err != nil {
			return tracterr.Wrap(tracterr.KindPolicyExecution, err, "evaluating policy "+p.Name)
		}
		if b, ok := hit.(bool); !ok || !b {
			continue
		}

		fields := map[string]any{"policy": p.Name, "commit": cm.CommitHash}
		for k, v := range p.Fields {
			fields[k] = v
		}
		pending := hooks.NewBasePending(hooks.OpPolicy, fields, func(context.Context) (any, error) {
			return fields, nil
		})
		_, rej, err := t.route(ctx, pending)
		if err != nil {
			return tracterr.Wrap(tracterr.KindPolicyExecution, err, "firing policy "+p.Name)
		}
		if rej != nil && p.OnRejection != nil {
			p.OnRejection(rej)
		}
	}
	return nil
}

// Trigger fires an ad-hoc hookable event by name; handlers observe the
// payload on the pending and may approve or reject it. Approval returns
// the (possibly mutated) payload.
func (t *Tract) Trigger(ctx context.Context, payload map[string]any, review bool) (hooks.Pending, any, *hooks.Rejection, error) {
	pending := hooks.NewBasePending(hooks.OpTrigger, payload, func(context.Context) (any, error) {
		return payload, nil
	})
	if review {
		return pending, nil, nil, nil
	}
	out, rej, err := t.route(ctx, pending)
	return pending, out, rej, err
}
