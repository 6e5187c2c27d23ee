// Package llm is the gateway between agents and model providers: it
// resolves an agent to an ordered candidate list, walks it with circuit
// breakers and failover, and accounts every attempt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/models"
)

// UsageRecorder persists per-call accounting rows.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u *models.ModelUsage) error
}

// Result is a successful completion plus which candidate served it.
type Result struct {
	Response  *ChatResponse
	Model     string
	Provider  string
	LatencyMS int64
	CostUSD   float64
}

// Gateway routes completions through the candidate chain.
type Gateway struct {
	cfg      *config.Provider
	breakers *BreakerRegistry
	usage    UsageRecorder

	mu      sync.Mutex
	clients map[string]*Client // keyed by provider ID + base URL
}

// NewGateway creates a gateway over the given config provider.
func NewGateway(cfg *config.Provider, usage UsageRecorder) *Gateway {
	breaker := cfg.Current().Breaker
	return &Gateway{
		cfg: cfg,
		breakers: NewBreakerRegistry(BreakerSettings{
			Threshold:   breaker.Threshold,
			Cooldown:    breaker.Cooldown,
			MaxCooldown: breaker.MaxCooldown,
		}),
		usage:   usage,
		clients: make(map[string]*Client),
	}
}

// BreakerStates exposes breaker state for the health endpoint and the
// cron scheduler's pre-fire check.
func (g *Gateway) BreakerStates() map[string]string {
	return g.breakers.States()
}

// ProviderAvailable reports whether the provider backing the given
// model is currently accepting calls, that is, its breaker is not open.
func (g *Gateway) ProviderAvailable(modelID string) bool {
	catalog := g.cfg.Current()
	spec, err := catalog.Model(modelID)
	if err != nil {
		return false
	}
	return g.breakers.Get(spec.Provider).State() != StateOpen
}

// Candidates resolves an agent to its ordered, deduplicated model chain:
// the primary, the explicit fallbacks, then every catalog model tier by
// tier starting at the primary's tier. First occurrence wins.
func Candidates(catalog *config.Catalog, agent *config.AgentSpec) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	add(agent.Model)
	for _, fb := range agent.Fallbacks {
		add(fb)
	}

	// Tier escalation starts at the primary's tier so a local-first
	// agent can climb to paid models, but a paid-first agent never
	// silently downgrades.
	startIdx := 0
	if primary, err := catalog.Model(agent.Model); err == nil {
		for i, tier := range catalog.TierOrder {
			if tier == primary.Tier {
				startIdx = i
				break
			}
		}
	}

	all := catalog.Models.GetAll()
	for _, tier := range catalog.TierOrder[startIdx:] {
		ids := make([]string, 0, len(all))
		for id, spec := range all {
			if spec.Tier == tier {
				ids = append(ids, id)
			}
		}
		// Deterministic order within a tier.
		sort.Strings(ids)
		for _, id := range ids {
			add(id)
		}
	}
	return out
}

// Complete walks the agent's candidate chain until one model answers.
// Open breakers are skipped, transient failures move to the next
// candidate, invariant failures abort. Every attempt is accounted.
func (g *Gateway) Complete(ctx context.Context, agentID, sessionID string, req ChatRequest) (*Result, error) {
	catalog := g.cfg.Current()
	agent, err := catalog.Agent(agentID)
	if err != nil {
		return nil, err
	}

	candidates := Candidates(catalog, agent)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: agent %s", ErrNoCandidates, agentID)
	}

	var attempts []error
	for _, modelID := range candidates {
		spec, err := catalog.Model(modelID)
		if err != nil {
			attempts = append(attempts, err)
			continue
		}
		providerSpec, err := catalog.Provider(spec.Provider)
		if err != nil {
			attempts = append(attempts, err)
			continue
		}
		if len(req.Tools) > 0 && !spec.SupportsTools {
			continue
		}

		breaker := g.breakers.Get(spec.Provider)
		if err := breaker.Allow(); err != nil {
			slog.Debug("Skipping candidate, breaker open", "model", modelID, "provider", spec.Provider)
			attempts = append(attempts, fmt.Errorf("model %s: %w", modelID, err))
			continue
		}

		result, callErr := g.callOnce(ctx, agent, spec, providerSpec, sessionID, req)
		if callErr == nil {
			breaker.Mark(nil)
			return result, nil
		}

		attempts = append(attempts, callErr)
		if !IsTransient(callErr) {
			// Invariant rejections are the request's fault, not the
			// provider's health, so they never count against the breaker.
			breaker.Release()
			return nil, callErr
		}
		breaker.Mark(callErr)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Model candidate failed, trying next",
			"agent", agentID, "model", modelID, "error", callErr)
	}

	return nil, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(attempts...))
}

func (g *Gateway) callOnce(ctx context.Context, agent *config.AgentSpec, spec *config.ModelSpec, providerSpec *config.ProviderSpec, sessionID string, req ChatRequest) (*Result, error) {
	if agent.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, agent.Timeout)
		defer cancel()
	}

	req.Model = spec.ID
	client := g.client(spec.Provider, providerSpec)

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	latency := time.Since(start).Milliseconds()

	usage := &models.ModelUsage{
		Model:     spec.ID,
		Provider:  spec.Provider,
		LatencyMS: latency,
		Success:   err == nil,
		SessionID: sessionID,
	}
	if err != nil {
		usage.ErrorMessage = err.Error()
	} else {
		usage.InputTokens = resp.InputTokens
		usage.OutputTokens = resp.OutputTokens
		usage.CostUSD = Cost(spec, resp.InputTokens, resp.OutputTokens)
	}
	// Accounting is best-effort: a usage write failure must not turn a
	// good completion into an error.
	if recordErr := g.usage.RecordUsage(ctx, usage); recordErr != nil {
		slog.Error("Failed to record model usage", "model", spec.ID, "error", recordErr)
	}

	if err != nil {
		return nil, err
	}
	return &Result{
		Response:  resp,
		Model:     spec.ID,
		Provider:  spec.Provider,
		LatencyMS: latency,
		CostUSD:   usage.CostUSD,
	}, nil
}

// client returns a cached client for the provider, rebuilding it when a
// reload changed the base URL.
func (g *Gateway) client(providerID string, spec *config.ProviderSpec) *Client {
	key := providerID + "|" + spec.BaseURL
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.clients[key]
	if !ok {
		c = NewClient(providerID, spec)
		g.clients[key] = c
	}
	return c
}
