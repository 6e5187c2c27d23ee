package config

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

// Validator performs fail-fast validation of a loaded catalog. Every
// cross-reference an operator can get wrong is checked here so a bad
// deploy dies at startup instead of at 3am when a cron fires.
type Validator struct {
	catalog *Catalog
	gron    *gronx.Gronx
	errors  []string
}

// NewValidator creates a validator for the given catalog.
func NewValidator(catalog *Catalog) *Validator {
	return &Validator{
		catalog: catalog,
		gron:    gronx.New(),
	}
}

// Validate runs all checks and returns an aggregated error listing
// every problem found, not just the first.
func (v *Validator) Validate() error {
	v.errors = nil

	v.validateTierOrder()
	v.validateModels()
	v.validateAgents()
	v.validateCrons()

	if len(v.errors) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrValidationFailed, strings.Join(v.errors, "\n  - "))
	}
	return nil
}

func (v *Validator) addError(err error) {
	v.errors = append(v.errors, err.Error())
}

func (v *Validator) validateTierOrder() {
	if len(v.catalog.TierOrder) == 0 {
		v.addError(NewValidationError("catalog", "tier_order", "", fmt.Errorf("must not be empty")))
		return
	}
	seen := make(map[string]bool)
	for _, tier := range v.catalog.TierOrder {
		if !tier.IsValid() {
			v.addError(NewValidationError("catalog", "tier_order", string(tier), ErrUnknownTier))
		}
		if seen[string(tier)] {
			v.addError(NewValidationError("catalog", "tier_order", string(tier), fmt.Errorf("duplicate tier")))
		}
		seen[string(tier)] = true
	}
}

func (v *Validator) validateModels() {
	tierKnown := make(map[string]bool, len(v.catalog.TierOrder))
	for _, t := range v.catalog.TierOrder {
		tierKnown[string(t)] = true
	}

	for id, m := range v.catalog.Models.GetAll() {
		if m.Provider == "" {
			v.addError(NewValidationError("model", id, "provider", fmt.Errorf("must not be empty")))
		} else if _, ok := v.catalog.Providers[m.Provider]; !ok {
			v.addError(NewValidationError("model", id, "provider", fmt.Errorf("%w: %s", ErrProviderNotFound, m.Provider)))
		}
		if !tierKnown[string(m.Tier)] {
			v.addError(NewValidationError("model", id, "tier", fmt.Errorf("%w: %s", ErrUnknownTier, m.Tier)))
		}
		if m.ContextWindow <= 0 {
			v.addError(NewValidationError("model", id, "context_window", fmt.Errorf("must be positive")))
		}
		if m.InputCostPer1K < 0 || m.OutputCostPer1K < 0 {
			v.addError(NewValidationError("model", id, "cost", fmt.Errorf("must not be negative")))
		}
	}

	for id, p := range v.catalog.Providers {
		if p.BaseURL == "" {
			v.addError(NewValidationError("provider", id, "base_url", fmt.Errorf("must not be empty")))
		}
	}
}

func (v *Validator) validateAgents() {
	agents := v.catalog.Agents.GetAll()

	for id, a := range agents {
		if a.Model == "" {
			v.addError(NewValidationError("agent", id, "model", fmt.Errorf("must not be empty")))
		} else if !v.catalog.Models.Has(a.Model) {
			v.addError(NewValidationError("agent", id, "model", fmt.Errorf("%w: %s", ErrModelNotFound, a.Model)))
		}
		for _, fb := range a.Fallbacks {
			if !v.catalog.Models.Has(fb) {
				v.addError(NewValidationError("agent", id, "fallbacks", fmt.Errorf("%w: %s", ErrModelNotFound, fb)))
			}
		}
		if a.Parent != "" {
			if _, ok := agents[a.Parent]; !ok {
				v.addError(NewValidationError("agent", id, "parent", fmt.Errorf("%w: %s", ErrAgentNotFound, a.Parent)))
			}
		}
		if !a.Role.IsValid() {
			v.addError(NewValidationError("agent", id, "role", fmt.Errorf("unknown role %q", a.Role)))
		}
		if a.RateLimit != nil {
			if a.RateLimit.RPS <= 0 {
				v.addError(NewValidationError("agent", id, "rate_limit.rps", fmt.Errorf("must be positive")))
			}
			if a.RateLimit.Burst < 1 {
				v.addError(NewValidationError("agent", id, "rate_limit.burst", fmt.Errorf("must be at least 1")))
			}
		}
	}

	v.validateParentCycles(agents)
}

// validateParentCycles walks each agent's parent chain. With the roster
// bounded by its own size, any walk longer than the roster is a cycle.
func (v *Validator) validateParentCycles(agents map[string]*AgentSpec) {
	for id := range agents {
		seen := map[string]bool{id: true}
		cur := agents[id]
		for cur != nil && cur.Parent != "" {
			if seen[cur.Parent] {
				v.addError(NewValidationError("agent", id, "parent", ErrParentCycle))
				break
			}
			seen[cur.Parent] = true
			cur = agents[cur.Parent]
		}
	}
}

func (v *Validator) validateCrons() {
	for _, c := range v.catalog.Crons {
		if c.Name == "" {
			v.addError(NewValidationError("cron", c.ID, "name", fmt.Errorf("must not be empty")))
		}
		if c.Schedule == "" {
			v.addError(NewValidationError("cron", c.ID, "schedule", fmt.Errorf("must not be empty")))
		} else if !v.gron.IsValid(c.Schedule) {
			v.addError(NewValidationError("cron", c.ID, "schedule", fmt.Errorf("%w: %q", ErrBadSchedule, c.Schedule)))
		}
		if c.Agent == "" {
			v.addError(NewValidationError("cron", c.ID, "agent", fmt.Errorf("must not be empty")))
		} else if !v.catalog.Agents.Has(c.Agent) {
			v.addError(NewValidationError("cron", c.ID, "agent", fmt.Errorf("%w: %s", ErrAgentNotFound, c.Agent)))
		}
		if c.SessionMode != "" && !c.SessionMode.IsValid() {
			v.addError(NewValidationError("cron", c.ID, "session_mode", fmt.Errorf("unknown mode %q", c.SessionMode)))
		}
		if c.MaxDuration < 0 {
			v.addError(NewValidationError("cron", c.ID, "max_duration", fmt.Errorf("must not be negative")))
		}
		if c.RetryCount < 0 {
			v.addError(NewValidationError("cron", c.ID, "retry_count", fmt.Errorf("must not be negative")))
		}
	}
}
