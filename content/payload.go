package content

import "fmt"

// Priority is an annotation level, ordered skip < normal < important < pinned.
type Priority string

const (
	PrioritySkip      Priority = "skip"
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
	PriorityPinned    Priority = "pinned"
)

// Rank gives a total order over priorities for comparisons.
func (p Priority) Rank() int {
	switch p {
	case PrioritySkip:
		return 0
	case PriorityNormal:
		return 1
	case PriorityImportant:
		return 2
	case PriorityPinned:
		return 3
	default:
		return 1
	}
}

// Payload is the discriminated union of everything that can be committed.
// Each variant knows its own content_type tag and how to render itself as
// a canonical-JSON-ready map.
type Payload interface {
	ContentType() string
	// ToMap returns the payload as a map carrying an explicit
	// "content_type" key, ready for CanonicalJSON/ContentHash.
	ToMap() map[string]any
	// DefaultPriority is the priority a fresh commit of this content gets
	// when no explicit annotation exists yet.
	DefaultPriority() Priority
}

const (
	TypeInstruction = "instruction"
	TypeDialogue    = "dialogue"
	TypeToolIO      = "tool_io"
	TypeReasoning   = "reasoning"
	TypeArtifact    = "artifact"
	TypeOutput      = "output"
	TypeFreeform    = "freeform"
	TypeSession     = "session"
)

// Instruction is a system-prompt-like content payload.
type Instruction struct {
	Text string `json:"text"`
}

func (i Instruction) ContentType() string { return TypeInstruction }
func (i Instruction) DefaultPriority() Priority { return PriorityPinned }
func (i Instruction) ToMap() map[string]any {
	return map[string]any{"content_type": TypeInstruction, "text": i.Text}
}

// DialogueRole is user or assistant.
type DialogueRole string

const (
	RoleUser      DialogueRole = "user"
	RoleAssistant DialogueRole = "assistant"
)

// Dialogue is an ordinary user/assistant turn.
type Dialogue struct {
	Role DialogueRole `json:"role"`
	Text string       `json:"text"`
	Name string       `json:"name,omitempty"`
}

func (d Dialogue) ContentType() string     { return TypeDialogue }
func (d Dialogue) DefaultPriority() Priority { return PriorityNormal }
func (d Dialogue) ToMap() map[string]any {
	m := map[string]any{"content_type": TypeDialogue, "role": string(d.Role), "text": d.Text}
	if d.Name != "" {
		m["name"] = d.Name
	}
	return m
}

// ToolIORole distinguishes a tool invocation from its result.
type ToolIORole string

const (
	ToolCallRole   ToolIORole = "tool_call"
	ToolResultRole ToolIORole = "tool_result"
)

// ToolIo carries either a tool call or a tool result.
type ToolIo struct {
	Role       ToolIORole `json:"role"`
	Name       string     `json:"name"`
	Arguments  string     `json:"arguments,omitempty"`
	Result     string     `json:"result,omitempty"`
	ToolCallID string     `json:"tool_call_id"`
}

func (t ToolIo) ContentType() string     { return TypeToolIO }
func (t ToolIo) DefaultPriority() Priority { return PriorityNormal }
func (t ToolIo) ToMap() map[string]any {
	m := map[string]any{
		"content_type": TypeToolIO,
		"role":         string(t.Role),
		"name":         t.Name,
		"tool_call_id": t.ToolCallID,
	}
	if t.Arguments != "" {
		m["arguments"] = t.Arguments
	}
	if t.Result != "" {
		m["result"] = t.Result
	}
	return m
}

// Reasoning is a chain-of-thought trace; defaults to skip priority.
type Reasoning struct {
	Text   string `json:"text"`
	Format string `json:"format,omitempty"`
}

func (r Reasoning) ContentType() string     { return TypeReasoning }
func (r Reasoning) DefaultPriority() Priority { return PrioritySkip }
func (r Reasoning) ToMap() map[string]any {
	m := map[string]any{"content_type": TypeReasoning, "text": r.Text}
	if r.Format != "" {
		m["format"] = r.Format
	}
	return m
}

// Artifact is an arbitrary typed attachment (code, file, image reference).
type Artifact struct {
	ContentKind string `json:"content_type_inner"`
	Body        string `json:"body"`
	URI         string `json:"uri,omitempty"`
}

func (a Artifact) ContentType() string     { return TypeArtifact }
func (a Artifact) DefaultPriority() Priority { return PriorityNormal }
func (a Artifact) ToMap() map[string]any {
	m := map[string]any{"content_type": TypeArtifact, "content_type_inner": a.ContentKind, "body": a.Body}
	if a.URI != "" {
		m["uri"] = a.URI
	}
	return m
}

// Output is a final answer, distinguished from Dialogue for audit purposes.
type Output struct {
	Text string `json:"text"`
}

func (o Output) ContentType() string     { return TypeOutput }
func (o Output) DefaultPriority() Priority { return PriorityNormal }
func (o Output) ToMap() map[string]any {
	return map[string]any{"content_type": TypeOutput, "text": o.Text}
}

// Freeform is the escape hatch for content that doesn't fit other variants.
type Freeform struct {
	Text string       `json:"text"`
	Role DialogueRole `json:"role"`
}

func (f Freeform) ContentType() string     { return TypeFreeform }
func (f Freeform) DefaultPriority() Priority { return PriorityNormal }
func (f Freeform) ToMap() map[string]any {
	return map[string]any{"content_type": TypeFreeform, "text": f.Text, "role": string(f.Role)}
}

// SessionType enumerates multi-agent boundary markers.
type SessionType string

const (
	SessionStart      SessionType = "start"
	SessionEnd        SessionType = "end"
	SessionHandoff    SessionType = "handoff"
	SessionCheckpoint SessionType = "checkpoint"
)

// Session marks a multi-agent session boundary; never emitted into
// compiled output, retained only for history/log views.
type Session struct {
	SessionType SessionType `json:"session_type"`
	Summary     string      `json:"summary,omitempty"`
	Decisions   []string    `json:"decisions,omitempty"`
	NextSteps   []string    `json:"next_steps,omitempty"`
}

func (s Session) ContentType() string     { return TypeSession }
func (s Session) DefaultPriority() Priority { return PriorityNormal }
func (s Session) ToMap() map[string]any {
	m := map[string]any{"content_type": TypeSession, "session_type": string(s.SessionType)}
	if s.Summary != "" {
		m["summary"] = s.Summary
	}
	if len(s.Decisions) > 0 {
		decisions := make([]any, len(s.Decisions))
		for i, d := range s.Decisions {
			decisions[i] = d
		}
		m["decisions"] = decisions
	}
	if len(s.NextSteps) > 0 {
		steps := make([]any, len(s.NextSteps))
		for i, st := range s.NextSteps {
			steps[i] = st
		}
		m["next_steps"] = steps
	}
	return m
}

// Validate checks a payload's internal consistency beyond what the type
// system enforces (required-field presence, enum membership).
func Validate(p Payload) error {
	switch v := p.(type) {
	case Instruction:
		if v.Text == "" {
			return fmt.Errorf("instruction: text is required")
		}
	case Dialogue:
		if v.Role != RoleUser && v.Role != RoleAssistant {
			return fmt.Errorf("dialogue: invalid role %q", v.Role)
		}
		if v.Text == "" {
			return fmt.Errorf("dialogue: text is required")
		}
	case ToolIo:
		if v.Role != ToolCallRole && v.Role != ToolResultRole {
			return fmt.Errorf("tool_io: invalid role %q", v.Role)
		}
		if v.ToolCallID == "" {
			return fmt.Errorf("tool_io: tool_call_id is required")
		}
		if v.Role == ToolCallRole && v.Arguments == "" {
			return fmt.Errorf("tool_io: tool_call requires arguments")
		}
		if v.Role == ToolResultRole && v.Result == "" {
			return fmt.Errorf("tool_io: tool_result requires result")
		}
	case Reasoning:
		if v.Text == "" {
			return fmt.Errorf("reasoning: text is required")
		}
	case Artifact:
		if v.ContentKind == "" {
			return fmt.Errorf("artifact: content_type_inner is required")
		}
	case Output:
		if v.Text == "" {
			return fmt.Errorf("output: text is required")
		}
	case Freeform:
		if v.Role != RoleUser && v.Role != RoleAssistant {
			return fmt.Errorf("freeform: invalid role %q", v.Role)
		}
	case Session:
		switch v.SessionType {
		case SessionStart, SessionEnd, SessionHandoff, SessionCheckpoint:
		default:
			return fmt.Errorf("session: invalid session_type %q", v.SessionType)
		}
	default:
		return fmt.Errorf("content: unknown payload type %T", p)
	}
	return nil
}
