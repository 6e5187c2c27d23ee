package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/moltworks/colony/pkg/models"
)

// maxIdleWait bounds the scheduler's sleep so entries edited directly in
// the database (bypassing Notify) are still picked up.
const maxIdleWait = time.Minute

// saturatedWait is how soon a deferred entry is re-examined while the
// pool has no room for another task.
const saturatedWait = time.Second

// missedFireGrace separates a tick the loop is about to serve from one
// that was missed during downtime or while the entry was disabled. A
// persisted due time older than this is replanned, not replayed.
const missedFireGrace = maxIdleWait

// Firer executes one due entry; the scheduler never blocks on it.
type Firer interface {
	Fire(ctx context.Context, entry models.CronEntry)
}

// Capacity reports whether the worker pool can take another task.
type Capacity interface {
	Accepting() bool
}

// Scheduler wakes when the earliest enabled entry is due and hands it to
// the runner. Schedules are evaluated in UTC; missed fires during
// downtime are not replayed, the next wall-clock match wins. A fire that
// lands while the pool is saturated is deferred in place: the entry's
// bookkeeping stays put and the loop re-checks it shortly.
type Scheduler struct {
	store    Store
	firer    Firer
	capacity Capacity

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the given store, runner, and
// pool capacity check. A nil capacity never defers.
func NewScheduler(st Store, firer Firer, capacity Capacity) *Scheduler {
	return &Scheduler{
		store:    st,
		firer:    firer,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// SeedFromCatalog reconciles cron_jobs.yaml entries into the store. The
// file is canonical for the entries it names; API-created entries are
// untouched.
func (s *Scheduler) SeedFromCatalog(ctx context.Context, seeds []models.CronEntry) error {
	for i := range seeds {
		if _, err := s.store.UpsertCronSeed(ctx, &seeds[i]); err != nil {
			return err
		}
	}
	if len(seeds) > 0 {
		slog.Info("Seeded cron entries from config", "count", len(seeds))
	}
	s.Notify()
	return nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("Cron scheduler started")
}

// Stop halts the loop. In-flight fires keep running on the pool.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("Cron scheduler stopped")
}

// Notify wakes the loop after entries changed (CRUD, reload, seed).
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := s.fireDueAndPlan(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// fireDueAndPlan fires every due enabled entry and returns how long to
// sleep until the next one.
func (s *Scheduler) fireDueAndPlan(ctx context.Context) time.Duration {
	now := time.Now().UTC()

	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		slog.Error("Failed to list cron entries, retrying shortly", "error", err)
		return 5 * time.Second
	}

	wait := maxIdleWait
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}

		next, err := s.nextRun(ctx, entry, now)
		if err != nil {
			slog.Error("Unparseable schedule, entry skipped",
				"cron", entry.Name, "schedule", entry.Schedule, "error", err)
			continue
		}

		if !next.After(now) {
			// Defer, not drop: a due entry keeps its bookkeeping while
			// the pool is full and is re-checked on the next wake.
			if s.capacity != nil && !s.capacity.Accepting() {
				slog.Warn("Pool saturated, deferring due fire", "cron", entry.Name)
				if saturatedWait < wait {
					wait = saturatedWait
				}
				continue
			}

			// Due: fire asynchronously and advance the bookkeeping past
			// this tick so one fire per match.
			after, err := gronx.NextTickAfter(entry.Schedule, now, false)
			if err != nil {
				continue
			}
			if err := s.store.SetCronRunTimes(ctx, entry.ID, now, &after); err != nil {
				slog.Error("Failed to record run times", "cron", entry.Name, "error", err)
				continue
			}
			e := entry
			go s.firer.Fire(ctx, e)

			if d := time.Until(after); d < wait {
				wait = d
			}
			continue
		}

		if d := time.Until(next); d < wait {
			wait = d
		}
	}

	if wait < 0 {
		wait = 0
	}
	return wait
}

// nextRun returns the entry's next fire time. The persisted next_run_at
// is trusted while it is near the present; one that went stale during
// downtime or while the entry was disabled is replanned from the wall
// clock and written back, so re-enabling never fires retroactively.
func (s *Scheduler) nextRun(ctx context.Context, entry models.CronEntry, now time.Time) (time.Time, error) {
	if entry.NextRunAt != nil && !entry.NextRunAt.IsZero() {
		persisted := entry.NextRunAt.UTC()
		if now.Sub(persisted) <= missedFireGrace {
			return persisted, nil
		}
		next, err := gronx.NextTickAfter(entry.Schedule, now, false)
		if err != nil {
			return time.Time{}, err
		}
		slog.Info("Skipping missed fire, replanning from wall clock",
			"cron", entry.Name, "missed", persisted, "next", next)
		if err := s.store.SetCronNextRun(ctx, entry.ID, next); err != nil {
			slog.Error("Failed to persist replanned next run", "cron", entry.Name, "error", err)
		}
		return next, nil
	}
	return gronx.NextTickAfter(entry.Schedule, now, false)
}
