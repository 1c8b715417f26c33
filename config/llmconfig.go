package config

// LLMConfig is the set of generation parameters resolved per operation.
// Every field is a pointer so "unset" is distinguishable from "zero
// value", which the fold in Resolve depends on.
type LLMConfig struct {
	Model           *string        `yaml:"model,omitempty"`
	Temperature     *float64       `yaml:"temperature,omitempty"`
	MaxTokens       *int           `yaml:"max_tokens,omitempty"`
	TopP            *float64       `yaml:"top_p,omitempty"`
	StopSequences   []string       `yaml:"stop_sequences,omitempty"`
	Seed            *int           `yaml:"seed,omitempty"`
	Extra           map[string]any `yaml:"extra,omitempty"`
}

// ResolutionSource names which tier supplied each resolved field, for
// callers that want provenance over where each value came from.
type ResolutionSource struct {
	Model         string
	Temperature   string
	MaxTokens     string
	TopP          string
	StopSequences string
	Seed          string
	Extra         string
}

// Resolve folds an ordered list of partial configs, highest priority
// first, into one effective LLMConfig: per-call sugar > explicit
// llm_config > per-operation config > tract default.
// A field is taken from the first tier (in list order) that sets it.
func Resolve(tiers ...*LLMConfig) (LLMConfig, ResolutionSource) {
	var out LLMConfig
	var src ResolutionSource

	for i, t := range tiers {
		if t == nil {
			continue
		}
		name := tierName(i)
		if out.Model == nil && t.Model != nil {
			out.Model = t.Model
			src.Model = name
		}
		if out.Temperature == nil && t.Temperature != nil {
			out.Temperature = t.Temperature
			src.Temperature = name
		}
		if out.MaxTokens == nil && t.MaxTokens != nil {
			out.MaxTokens = t.MaxTokens
			src.MaxTokens = name
		}
		if out.TopP == nil && t.TopP != nil {
			out.TopP = t.TopP
			src.TopP = name
		}
		if out.StopSequences == nil && t.StopSequences != nil {
			out.StopSequences = t.StopSequences
			src.StopSequences = name
		}
		if out.Seed == nil && t.Seed != nil {
			out.Seed = t.Seed
			src.Seed = name
		}
		if out.Extra == nil && t.Extra != nil {
			out.Extra = t.Extra
			src.Extra = name
		}
	}
	return out, src
}

func tierName(i int) string {
	names := []string{"per_call", "explicit", "per_operation", "tract_default"}
	if i < len(names) {
		return names[i]
	}
	return "unknown"
}

// FromDict accepts a cross-framework dict of LLM parameters, mapping
// known aliases (max_completion_tokens -> MaxTokens, stop -> StopSequences)
// and ignoring API plumbing keys (messages, tools) it doesn't recognize.
func FromDict(d map[string]any) LLMConfig {
	var cfg LLMConfig
	if v, ok := d["model"].(string); ok {
		cfg.Model = &v
	}
	if v, ok := asFloat(d["temperature"]); ok {
		cfg.Temperature = &v
	}
	if v, ok := asInt(d["max_tokens"]); ok {
		cfg.MaxTokens = &v
	} else if v, ok := asInt(d["max_completion_tokens"]); ok {
		cfg.MaxTokens = &v
	}
	if v, ok := asFloat(d["top_p"]); ok {
		cfg.TopP = &v
	}
	if v, ok := d["stop_sequences"].([]string); ok {
		cfg.StopSequences = v
	} else if v, ok := d["stop"].([]string); ok {
		cfg.StopSequences = v
	}
	if v, ok := asInt(d["seed"]); ok {
		cfg.Seed = &v
	}
	if v, ok := d["extra"].(map[string]any); ok {
		cfg.Extra = v
	}
	// "messages" and "tools" are deliberately ignored: API plumbing keys,
	// not generation parameters.
	return cfg
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
