package content

import (
	"encoding/json"
	"fmt"
)

// FromMap reconstructs a typed Payload from its canonical map form (as
// decoded from stored JSON), keyed by the content_type discriminator.
// Used wherever an engine needs to re-commit or re-text a stored blob:
// merge replay, rebase replay, cherry-pick, and compression summaries.
func FromMap(m map[string]any) (Payload, error) {
	ct, _ := m["content_type"].(string)
	str := func(k string) string { s, _ := m[k].(string); return s }
	switch ct {
	case TypeInstruction:
		return Instruction{Text: str("text")}, nil
	case TypeDialogue:
		return Dialogue{Role: DialogueRole(str("role")), Text: str("text"), Name: str("name")}, nil
	case TypeToolIO:
		return ToolIo{
			Role: ToolIORole(str("role")), Name: str("name"), Arguments: str("arguments"),
			Result: str("result"), ToolCallID: str("tool_call_id"),
		}, nil
	case TypeReasoning:
		return Reasoning{Text: str("text"), Format: str("format")}, nil
	case TypeArtifact:
		return Artifact{ContentKind: str("content_type_inner"), Body: str("body"), URI: str("uri")}, nil
	case TypeOutput:
		return Output{Text: str("text")}, nil
	case TypeFreeform:
		return Freeform{Text: str("text"), Role: DialogueRole(str("role"))}, nil
	case TypeSession:
		s := Session{SessionType: SessionType(str("session_type")), Summary: str("summary")}
		if raw, ok := m["decisions"].([]any); ok {
			for _, d := range raw {
				if ds, ok := d.(string); ok {
					s.Decisions = append(s.Decisions, ds)
				}
			}
		}
		if raw, ok := m["next_steps"].([]any); ok {
			for _, d := range raw {
				if ds, ok := d.(string); ok {
					s.NextSteps = append(s.NextSteps, ds)
				}
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("content: unknown content_type %q", ct)
	}
}

// FromJSON decodes a blob's stored canonical JSON into a typed Payload.
func FromJSON(data []byte) (Payload, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("content: decoding payload json: %w", err)
	}
	return FromMap(raw)
}

// PrimaryText returns the main human-readable text of a payload: the
// field a merge conflict, cherry-pick preview, or compression prompt
// would quote. ToolIo prefers its result, falling back to its arguments.
func PrimaryText(p Payload) string {
	switch v := p.(type) {
	case Instruction:
		return v.Text
	case Dialogue:
		return v.Text
	case ToolIo:
		if v.Result != "" {
			return v.Result
		}
		return v.Arguments
	case Reasoning:
		return v.Text
	case Artifact:
		return v.Body
	case Output:
		return v.Text
	case Freeform:
		return v.Text
	case Session:
		return v.Summary
	default:
		return ""
	}
}

// WithText returns a copy of p with its primary text field replaced,
// preserving every other field (role, name, tool_call_id, ...). Used to
// build the edit commit a merge resolution or compression summary
// produces for a target whose content type must stay the same.
func WithText(p Payload, text string) Payload {
	switch v := p.(type) {
	case Instruction:
		v.Text = text
		return v
	case Dialogue:
		v.Text = text
		return v
	case ToolIo:
		if v.Role == ToolResultRole {
			v.Result = text
		} else {
			v.Arguments = text
		}
		return v
	case Reasoning:
		v.Text = text
		return v
	case Artifact:
		v.Body = text
		return v
	case Output:
		v.Text = text
		return v
	case Freeform:
		v.Text = text
		return v
	case Session:
		v.Summary = text
		return v
	default:
		return p
	}
}
