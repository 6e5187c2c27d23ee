package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/models"
)

// Canceller aborts the in-flight task of a session, if one is running.
type Canceller interface {
	CancelSession(sessionID string) bool
}

// SweepStore is the persistence surface the sweeper writes.
type SweepStore interface {
	StaleSessions(ctx context.Context, olderThan time.Time) ([]models.ChatSession, error)
	ActiveChildren(ctx context.Context, parentID string) ([]models.ChatSession, error)
	EndSession(ctx context.Context, id string, status models.SessionStatus) error
	OpenExecutions(ctx context.Context) ([]models.CronExecution, error)
	FinishCronExecution(ctx context.Context, execID int64, outcome models.CronOutcome, errMsg string) error
	RecordActivity(ctx context.Context, agentID, kind string, detail map[string]any) error
}

// Sweeper periodically force-fails sessions that stopped making
// progress, cancelling their tasks and their live descendants.
type Sweeper struct {
	cfg   *config.Provider
	store SweepStore
	pool  Canceller

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper over the given config, store, and pool.
func NewSweeper(cfg *config.Provider, st SweepStore, pool Canceller) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		store:  st,
		pool:   pool,
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("Stale session sweeper started",
		"interval", s.cfg.Current().Safety.SweepInterval,
		"stale_after", s.cfg.Current().Safety.StaleTimeout)
}

// Stop halts the loop after any in-progress sweep finishes.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("Stale session sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Current().Safety.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				slog.Error("Stale sweep failed", "error", err)
			} else if n > 0 {
				slog.Warn("Stale sweep force-failed sessions", "count", n)
			}
		}
	}
}

// Sweep force-fails every active session whose last activity predates
// the stale cutoff, and returns how many it ended. Each stale session's
// live descendants are cancelled first so a hung parent cannot strand
// its children.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Current().Safety.StaleTimeout)

	stale, err := s.store.StaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for stale sessions: %w", err)
	}

	ended := 0
	for _, sess := range stale {
		if err := s.failTree(ctx, sess); err != nil {
			slog.Error("Failed to end stale session", "session_id", sess.ID, "error", err)
			continue
		}
		ended++
	}
	return ended, nil
}

// CleanupStartupOrphans runs once on boot, before any new work starts.
// Executions left open by a previous run are closed as failures; their
// sessions are handled by the regular stale sweep once they go quiet.
func (s *Sweeper) CleanupStartupOrphans(ctx context.Context) error {
	open, err := s.store.OpenExecutions(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan for orphaned executions: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	slog.Warn("Found orphaned executions from previous run", "count", len(open))
	for _, e := range open {
		err := s.store.FinishCronExecution(ctx, e.ID, models.CronOutcomeFailure,
			"orphaned: process restarted while execution was running")
		if err != nil {
			slog.Error("Failed to close orphaned execution", "exec_id", e.ID, "error", err)
			continue
		}
		slog.Info("Orphaned execution closed", "exec_id", e.ID, "cron_id", e.CronID)
	}
	return nil
}

// CancelDescendants cancels and fails every live descendant of a
// session, leaving the session itself untouched. Ending a parent calls
// this so its sub-agents do not keep running against a dead root.
func (s *Sweeper) CancelDescendants(ctx context.Context, sessionID string) (int, error) {
	children, err := s.store.ActiveChildren(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, child := range children {
		if err := s.failTree(ctx, child); err != nil {
			slog.Error("Failed to cancel descendant",
				"session_id", child.ID, "parent_id", sessionID, "error", err)
			continue
		}
		ended++
	}
	return ended, nil
}

// failTree cancels and fails a session and its live descendants,
// children first.
func (s *Sweeper) failTree(ctx context.Context, sess models.ChatSession) error {
	children, err := s.store.ActiveChildren(ctx, sess.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.failTree(ctx, child); err != nil {
			slog.Error("Failed to end child of stale session",
				"session_id", child.ID, "parent_id", sess.ID, "error", err)
		}
	}

	s.pool.CancelSession(sess.ID)
	if err := s.store.EndSession(ctx, sess.ID, models.SessionStatusFailed); err != nil {
		return err
	}

	detail := map[string]any{
		"session_id":       sess.ID,
		"last_activity_at": sess.LastActivityAt.Format(time.RFC3339),
	}
	if err := s.store.RecordActivity(ctx, sess.AgentID, "session_force_ended", detail); err != nil {
		slog.Error("Failed to record force-end activity", "session_id", sess.ID, "error", err)
	}
	return nil
}
