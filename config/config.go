// Package config holds RepoConfig/LLMConfig and the fold-over-partial-
// configs resolution strategy. On-disk configuration is YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BudgetAction controls what happens when a commit would exceed the
// configured token budget.
type BudgetAction string

const (
	BudgetWarn     BudgetAction = "warn"
	BudgetReject   BudgetAction = "reject"
	BudgetCallback BudgetAction = "callback"
)

// TokenBudgetConfig bounds the compiled token count of a tract.
type TokenBudgetConfig struct {
	Max    int          `yaml:"max"`
	Action BudgetAction `yaml:"action"`
}

// RepoConfig is the tract-wide default configuration, loaded once at open.
type RepoConfig struct {
	DBPath            string             `yaml:"db_path"`
	TokenizerEncoding string             `yaml:"tokenizer_encoding"`
	DefaultBranch     string             `yaml:"default_branch"`
	TokenBudget       *TokenBudgetConfig `yaml:"token_budget,omitempty"`
	LLMDefault        *LLMConfig         `yaml:"llm_default,omitempty"`
	CompileCacheSize  int                `yaml:"compile_cache_size"`
	OrphanRetentionDays  int             `yaml:"orphan_retention_days"`
	ArchiveRetentionDays int             `yaml:"archive_retention_days"`
}

// DefaultRepoConfig returns the working defaults: an in-memory store,
// o200k_base tokenization, and "main" as the default branch.
func DefaultRepoConfig() RepoConfig {
	return RepoConfig{
		DBPath:               ":memory:",
		TokenizerEncoding:    "o200k_base",
		DefaultBranch:        "main",
		CompileCacheSize:     128,
		OrphanRetentionDays:  30,
		ArchiveRetentionDays: 90,
	}
}

// LoadRepoConfig reads a YAML file into a RepoConfig seeded with defaults,
// so a partial file only needs to override what it cares about.
func LoadRepoConfig(path string) (RepoConfig, error) {
	cfg := DefaultRepoConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return RepoConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepoConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
