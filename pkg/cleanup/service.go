// Package cleanup enforces data retention: ended sessions, old usage
// accounting, and old activity rows are pruned on a schedule. All
// operations are idempotent.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// RetentionStore is the persistence surface the service prunes.
type RetentionStore interface {
	PruneSessions(ctx context.Context, endedBefore time.Time) (int64, error)
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
	PruneActivity(ctx context.Context, before time.Time) (int64, error)
}

// RetentionConfig bounds how much history the store keeps.
type RetentionConfig struct {
	// SessionRetention is how long terminal sessions and their messages
	// survive after ending.
	SessionRetention time.Duration

	// UsageRetention is how long model accounting rows survive.
	UsageRetention time.Duration

	// ActivityRetention is how long activity log rows survive.
	ActivityRetention time.Duration

	// Interval is how often the pruning pass runs.
	Interval time.Duration
}

// DefaultRetention returns the built-in policy, with day counts
// overridable via SESSION_RETENTION_DAYS and USAGE_RETENTION_DAYS.
func DefaultRetention() RetentionConfig {
	cfg := RetentionConfig{
		SessionRetention:  90 * 24 * time.Hour,
		UsageRetention:    30 * 24 * time.Hour,
		ActivityRetention: 14 * 24 * time.Hour,
		Interval:          6 * time.Hour,
	}
	if v := os.Getenv("SESSION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionRetention = time.Duration(n) * 24 * time.Hour
		}
	}
	if v := os.Getenv("USAGE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UsageRetention = time.Duration(n) * 24 * time.Hour
		}
	}
	return cfg
}

// Service runs the periodic pruning loop.
type Service struct {
	cfg   RetentionConfig
	store RetentionStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service.
func NewService(cfg RetentionConfig, st RetentionStore) *Service {
	return &Service{cfg: cfg, store: st}
}

// Start launches the background loop. The first pass runs immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"session_retention", s.cfg.SessionRetention,
		"usage_retention", s.cfg.UsageRetention,
		"interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one full pruning pass. Failures are logged, never
// fatal; the next pass retries.
func (s *Service) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := s.store.PruneSessions(ctx, now.Add(-s.cfg.SessionRetention)); err != nil {
		slog.Error("Retention: session prune failed", "error", err)
	} else if n > 0 {
		slog.Info("Retention: pruned old sessions", "count", n)
	}

	if n, err := s.store.PruneUsage(ctx, now.Add(-s.cfg.UsageRetention)); err != nil {
		slog.Error("Retention: usage prune failed", "error", err)
	} else if n > 0 {
		slog.Info("Retention: pruned old usage rows", "count", n)
	}

	if n, err := s.store.PruneActivity(ctx, now.Add(-s.cfg.ActivityRetention)); err != nil {
		slog.Error("Retention: activity prune failed", "error", err)
	} else if n > 0 {
		slog.Info("Retention: pruned old activity rows", "count", n)
	}
}
