package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/models"
)

func testCatalog(mutate func(*Catalog)) *Catalog {
	c := &Catalog{
		TierOrder: defaultTierOrder(),
		Providers: map[string]*ProviderSpec{
			"litellm": {BaseURL: "http://localhost:4000/v1"},
		},
		Models: NewModelRegistry(map[string]*ModelSpec{
			"m1": {ID: "m1", Provider: "litellm", Tier: models.TierLocal, ContextWindow: 8192},
			"m2": {ID: "m2", Provider: "litellm", Tier: models.TierPaid, ContextWindow: 200000},
		}),
		Agents: NewAgentRegistry(map[string]*AgentSpec{
			"root":  {ID: "root", Model: "m2", Role: models.AgentRoleCoordinator},
			"child": {ID: "child", Model: "m1", Parent: "root", Role: models.AgentRoleSubAgent},
		}),
	}
	if mutate != nil {
		mutate(c)
	}
	return c
}

func TestValidator_ValidCatalog(t *testing.T) {
	require.NoError(t, NewValidator(testCatalog(nil)).Validate())
}

func TestValidator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Catalog)
		wantMsg string
	}{
		{
			name: "model with unknown provider",
			mutate: func(c *Catalog) {
				c.Models = NewModelRegistry(map[string]*ModelSpec{
					"m1": {ID: "m1", Provider: "nope", Tier: models.TierLocal, ContextWindow: 8192},
				})
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "m1", Role: models.AgentRoleCoordinator},
				})
			},
			wantMsg: "provider not found",
		},
		{
			name: "model with unknown tier",
			mutate: func(c *Catalog) {
				c.Models = NewModelRegistry(map[string]*ModelSpec{
					"m1": {ID: "m1", Provider: "litellm", Tier: "platinum", ContextWindow: 8192},
				})
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "m1", Role: models.AgentRoleCoordinator},
				})
			},
			wantMsg: "unknown tier",
		},
		{
			name: "model with zero context window",
			mutate: func(c *Catalog) {
				c.Models = NewModelRegistry(map[string]*ModelSpec{
					"m1": {ID: "m1", Provider: "litellm", Tier: models.TierLocal},
				})
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "m1", Role: models.AgentRoleCoordinator},
				})
			},
			wantMsg: "context_window",
		},
		{
			name: "agent with dangling primary model",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "missing", Role: models.AgentRoleCoordinator},
				})
			},
			wantMsg: "model not found",
		},
		{
			name: "agent with dangling fallback",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "m1", Fallbacks: []string{"missing"}, Role: models.AgentRoleCoordinator},
				})
			},
			wantMsg: "model not found",
		},
		{
			name: "agent with dangling parent",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"orphan": {ID: "orphan", Model: "m1", Parent: "missing", Role: models.AgentRoleSubAgent},
				})
			},
			wantMsg: "agent not found",
		},
		{
			name: "parent cycle",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"a": {ID: "a", Model: "m1", Parent: "b", Role: models.AgentRoleSubAgent},
					"b": {ID: "b", Model: "m1", Parent: "a", Role: models.AgentRoleSubAgent},
				})
			},
			wantMsg: "parent cycle",
		},
		{
			name: "self parent",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"a": {ID: "a", Model: "m1", Parent: "a", Role: models.AgentRoleSubAgent},
				})
			},
			wantMsg: "parent cycle",
		},
		{
			name: "invalid rate limit",
			mutate: func(c *Catalog) {
				c.Agents = NewAgentRegistry(map[string]*AgentSpec{
					"root": {ID: "root", Model: "m1", Role: models.AgentRoleCoordinator, RateLimit: &RateLimitSpec{RPS: 0, Burst: 0}},
				})
			},
			wantMsg: "rate_limit",
		},
		{
			name: "cron with bad schedule",
			mutate: func(c *Catalog) {
				c.Crons = []CronSpec{
					{ID: "x", Name: "x", Schedule: "every day at noon", Agent: "root"},
				}
			},
			wantMsg: "unparseable cron schedule",
		},
		{
			name: "cron with dangling agent",
			mutate: func(c *Catalog) {
				c.Crons = []CronSpec{
					{ID: "x", Name: "x", Schedule: "*/5 * * * *", Agent: "missing"},
				}
			},
			wantMsg: "agent not found",
		},
		{
			name: "cron with unknown session mode",
			mutate: func(c *Catalog) {
				c.Crons = []CronSpec{
					{ID: "x", Name: "x", Schedule: "*/5 * * * *", Agent: "root", SessionMode: "bursty"},
				}
			},
			wantMsg: "session_mode",
		},
		{
			name: "provider without base url",
			mutate: func(c *Catalog) {
				c.Providers["litellm"] = &ProviderSpec{}
			},
			wantMsg: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator(testCatalog(tt.mutate)).Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidator_AggregatesAllErrors(t *testing.T) {
	c := testCatalog(func(c *Catalog) {
		c.Agents = NewAgentRegistry(map[string]*AgentSpec{
			"a": {ID: "a", Model: "missing1", Role: models.AgentRoleCoordinator},
			"b": {ID: "b", Model: "missing2", Role: models.AgentRoleCoordinator},
		})
	})

	err := NewValidator(c).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing1")
	assert.Contains(t, err.Error(), "missing2")
}
