// Package config loads and validates the model catalog, the agent roster,
// and the cron seed file, and exposes them as immutable registries.
package config

import (
	"time"

	"github.com/moltworks/colony/pkg/models"
)

// ProviderSpec describes one LLM provider endpoint. The gateway keys its
// circuit breakers by provider ID.
type ProviderSpec struct {
	// Base URL of the OpenAI-compatible API, e.g. "http://litellm:4000/v1".
	BaseURL string `yaml:"base_url"`

	// Environment variable holding the API key, if the endpoint needs one.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// ModelSpec describes one model in the catalog.
type ModelSpec struct {
	ID            string      `yaml:"-"`
	Provider      string      `yaml:"provider"`
	Tier          models.Tier `yaml:"tier"`
	ContextWindow int         `yaml:"context_window"`

	// Pricing per 1k tokens, used for cost accounting on every call.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`

	SupportsTools bool `yaml:"supports_tools"`
}

// RateLimitSpec is a per-agent token-bucket policy.
type RateLimitSpec struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AgentSpec is one roster entry: an identity bound to a primary model,
// an ordered fallback list, and per-call constraints.
type AgentSpec struct {
	ID           string           `yaml:"-"`
	Model        string           `yaml:"model"`
	Fallbacks    []string         `yaml:"fallbacks,omitempty"`
	Parent       string           `yaml:"parent,omitempty"`
	Role         models.AgentRole `yaml:"role"`
	Timeout      time.Duration    `yaml:"timeout,omitempty"`
	RateLimit    *RateLimitSpec   `yaml:"rate_limit,omitempty"`
	Capabilities []string         `yaml:"capabilities,omitempty"`
	MindFiles    []string         `yaml:"mind_files,omitempty"`
	SystemPrompt string           `yaml:"system_prompt,omitempty"`
}

// CronSpec is one seed entry from cron_jobs.yaml. Entries created at
// runtime via the API live only in the store.
type CronSpec struct {
	ID          string             `yaml:"-"`
	Name        string             `yaml:"name"`
	Schedule    string             `yaml:"schedule"`
	Enabled     bool               `yaml:"enabled"`
	Payload     string             `yaml:"payload"`
	Agent       string             `yaml:"agent"`
	SessionMode models.SessionMode `yaml:"session_mode"`
	MaxDuration time.Duration      `yaml:"max_duration,omitempty"`
	RetryCount  int                `yaml:"retry_count,omitempty"`
}

// Catalog is the immutable configuration snapshot handed out by the
// Provider. Reload builds a fresh Catalog and swaps the pointer; no
// in-flight request ever sees a half-swapped catalog.
type Catalog struct {
	configDir string

	// TierOrder is the default escalation order (local → free → paid)
	// used by the gateway once an agent's explicit fallbacks are exhausted.
	TierOrder []models.Tier

	Providers map[string]*ProviderSpec

	Models *ModelRegistry
	Agents *AgentRegistry
	Crons  []CronSpec

	Pool    *PoolConfig
	Breaker *BreakerConfig
	Safety  *SafetyConfig
}

// ConfigDir returns the directory the catalog was loaded from.
func (c *Catalog) ConfigDir() string {
	return c.configDir
}

// Agent retrieves a roster entry by ID.
func (c *Catalog) Agent(id string) (*AgentSpec, error) {
	return c.Agents.Get(id)
}

// Model retrieves a catalog entry by ID.
func (c *Catalog) Model(id string) (*ModelSpec, error) {
	return c.Models.Get(id)
}

// Provider retrieves a provider endpoint by ID.
func (c *Catalog) Provider(id string) (*ProviderSpec, error) {
	p, ok := c.Providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Stats contains statistics about the loaded catalog.
type Stats struct {
	Agents    int
	Models    int
	Providers int
	Crons     int
}

// Stats returns catalog statistics for logging.
func (c *Catalog) Stats() Stats {
	return Stats{
		Agents:    c.Agents.Len(),
		Models:    c.Models.Len(),
		Providers: len(c.Providers),
		Crons:     len(c.Crons),
	}
}
