// Package safety keeps agent cascades bounded: it vetoes cron fires
// while providers are dark, enforces spawn budgets on sub-agent
// creation, cancels whole session trees, and sweeps stale sessions
// left behind by hung tasks or crashes.
package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/cron"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/store"
)

var (
	// ErrSpawnBudget rejects a spawn that would exceed the per-parent
	// live-children cap.
	ErrSpawnBudget = errors.New("spawn budget exceeded")

	// ErrDepthExceeded rejects a spawn that would exceed the maximum
	// parent-chain depth.
	ErrDepthExceeded = errors.New("spawn depth exceeded")
)

// Breakers is the circuit state the guard consults before a fire.
type Breakers interface {
	ProviderAvailable(modelID string) bool
}

// GuardStore is the persistence surface the guard reads.
type GuardStore interface {
	CountActiveChildren(ctx context.Context, parentID string) (int, error)
	SessionDepth(ctx context.Context, id string) (int, error)
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.ChatSession, error)
}

// Guard makes go/no-go decisions for cron fires and sub-agent spawns.
type Guard struct {
	cfg      *config.Provider
	store    GuardStore
	breakers Breakers
}

// NewGuard creates a guard over the given config, store, and breakers.
func NewGuard(cfg *config.Provider, st GuardStore, breakers Breakers) *Guard {
	return &Guard{cfg: cfg, store: st, breakers: breakers}
}

// AllowCronFire vetoes a fire before any session is touched. A fire is
// vetoed when every model the agent could reach sits behind an open
// breaker, or when an ephemeral entry's agent already holds its budget
// of live cron sessions.
func (g *Guard) AllowCronFire(ctx context.Context, entry *models.CronEntry) error {
	catalog := g.cfg.Current()
	agent, err := catalog.Agent(entry.AgentID)
	if err != nil {
		return fmt.Errorf("cron %q: %w", entry.Name, err)
	}

	if !g.anyProviderReachable(agent) {
		return fmt.Errorf("agent %q: primary and all fallbacks dark: %w", agent.ID, cron.ErrBreakerOpen)
	}

	// Shared modes reuse one session per entry or agent, so only the
	// ephemeral mode can accumulate sessions when fires hang.
	if entry.SessionMode == models.SessionModeEphemeral {
		live, err := g.store.ListSessions(ctx, store.SessionFilter{
			AgentID:     entry.AgentID,
			Status:      models.SessionStatusActive,
			SessionType: models.SessionTypeCron,
		})
		if err != nil {
			return fmt.Errorf("cron %q: %w", entry.Name, err)
		}
		if max := catalog.Safety.MaxChildren; len(live) >= max {
			return fmt.Errorf("agent %q has %d live cron sessions (cap %d): %w",
				agent.ID, len(live), max, cron.ErrOverBudget)
		}
	}

	return nil
}

// AllowSpawn checks the spawn budgets for creating a sub-agent session
// under the given parent. Callers create the child only on nil.
func (g *Guard) AllowSpawn(ctx context.Context, parentSessionID string) error {
	safety := g.cfg.Current().Safety

	depth, err := g.store.SessionDepth(ctx, parentSessionID)
	if err != nil {
		return err
	}
	// Depth counts parent links: a root session sits at 0 and its
	// children at 1. The cap names the deepest level that may still
	// spawn, so a child landing at MaxDepth is rejected.
	if depth+1 >= safety.MaxDepth {
		return fmt.Errorf("parent at depth %d, max %d: %w", depth, safety.MaxDepth, ErrDepthExceeded)
	}

	children, err := g.store.CountActiveChildren(ctx, parentSessionID)
	if err != nil {
		return err
	}
	if children >= safety.MaxChildren {
		return fmt.Errorf("parent has %d live children, max %d: %w", children, safety.MaxChildren, ErrSpawnBudget)
	}

	return nil
}

func (g *Guard) anyProviderReachable(agent *config.AgentSpec) bool {
	if g.breakers.ProviderAvailable(agent.Model) {
		return true
	}
	for _, fb := range agent.Fallbacks {
		if g.breakers.ProviderAvailable(fb) {
			return true
		}
	}
	return false
}

// compile-time check: the guard satisfies the cron veto interface.
var _ cron.Guard = (*Guard)(nil)
