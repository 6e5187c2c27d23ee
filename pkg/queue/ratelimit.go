package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/moltworks/colony/pkg/config"
)

// limiterRegistry holds one token bucket per rate-limited agent.
// Agents without a rate_limit spec are unthrottled.
type limiterRegistry struct {
	cfg *config.Provider

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry(cfg *config.Provider) *limiterRegistry {
	return &limiterRegistry{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait blocks until the agent's bucket admits one task.
func (r *limiterRegistry) wait(ctx context.Context, agentID string) error {
	agent, err := r.cfg.Current().Agent(agentID)
	if err != nil || agent.RateLimit == nil {
		return nil
	}

	r.mu.Lock()
	lim, ok := r.limiters[agentID]
	if !ok || lim.Limit() != rate.Limit(agent.RateLimit.RPS) || lim.Burst() != agent.RateLimit.Burst {
		lim = rate.NewLimiter(rate.Limit(agent.RateLimit.RPS), agent.RateLimit.Burst)
		r.limiters[agentID] = lim
	}
	r.mu.Unlock()

	return lim.Wait(ctx)
}
