package config

import "testing"

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestResolve_PriorityOrder(t *testing.T) {
	perCall := &LLMConfig{Model: strPtr("gpt-4o")}
	explicit := &LLMConfig{Model: strPtr("gpt-4o-mini"), MaxTokens: intPtr(500)}
	perOperation := &LLMConfig{MaxTokens: intPtr(1000), Seed: intPtr(7)}
	tractDefault := &LLMConfig{Seed: intPtr(1), Temperature: func() *float64 { f := 0.5; return &f }()}

	resolved, src := Resolve(perCall, explicit, perOperation, tractDefault)

	if resolved.Model == nil || *resolved.Model != "gpt-4o" {
		t.Errorf("Model = %v, want gpt-4o (per_call wins)", resolved.Model)
	}
	if src.Model != "per_call" {
		t.Errorf("ResolutionSource.Model = %q, want per_call", src.Model)
	}
	if resolved.MaxTokens == nil || *resolved.MaxTokens != 500 {
		t.Errorf("MaxTokens = %v, want 500 (explicit wins over per_operation)", resolved.MaxTokens)
	}
	if resolved.Seed == nil || *resolved.Seed != 7 {
		t.Errorf("Seed = %v, want 7 (per_operation wins over tract_default)", resolved.Seed)
	}
	if resolved.Temperature == nil || *resolved.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5 (only tract_default set it)", resolved.Temperature)
	}
}

func TestResolve_NilTiersSkipped(t *testing.T) {
	resolved, _ := Resolve(nil, nil, &LLMConfig{Model: strPtr("claude")}, nil)
	if resolved.Model == nil || *resolved.Model != "claude" {
		t.Errorf("Model = %v, want claude", resolved.Model)
	}
}

func TestFromDict_AliasesAndIgnoredKeys(t *testing.T) {
	cfg := FromDict(map[string]any{
		"model":                 "gpt-4o",
		"max_completion_tokens": 256,
		"stop":                  []string{"\n"},
		"messages":              []any{"ignored"},
		"tools":                 []any{"ignored"},
	})
	if cfg.Model == nil || *cfg.Model != "gpt-4o" {
		t.Errorf("Model = %v, want gpt-4o", cfg.Model)
	}
	if cfg.MaxTokens == nil || *cfg.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256 via max_completion_tokens alias", cfg.MaxTokens)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "\n" {
		t.Errorf("StopSequences = %v, want [\"\\n\"] via stop alias", cfg.StopSequences)
	}
}
