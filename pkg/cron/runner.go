package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/queue"
)

// submitGrace bounds how long a fire waits out a momentarily full queue
// before the tick is abandoned as skipped.
const (
	submitGrace      = 30 * time.Second
	submitRetryDelay = time.Second
)

// Runner executes one cron fire end to end: overlap check, safety veto,
// session resolution by mode, task submission, and history bookkeeping.
type Runner struct {
	store    Store
	sessions Sessions
	pool     Submitter
	guard    Guard
}

// NewRunner creates a fire runner.
func NewRunner(st Store, sessions Sessions, pool Submitter, guard Guard) *Runner {
	return &Runner{store: st, sessions: sessions, pool: pool, guard: guard}
}

// Fire runs one due entry. Skips are recorded in history, never silent.
func (r *Runner) Fire(ctx context.Context, entry models.CronEntry) {
	log := slog.With("cron", entry.Name, "cron_id", entry.ID, "agent", entry.AgentID)

	// Ephemeral entries never overlap themselves: a fire that lands
	// while the previous one still runs is skipped, not queued.
	if entry.SessionMode == models.SessionModeEphemeral {
		if _, err := r.store.RunningExecution(ctx, entry.ID); err == nil {
			log.Info("Skipping fire, previous execution still running")
			r.recordSkip(ctx, entry, models.CronOutcomeSkippedRunning, "previous execution still running")
			return
		}
	}

	if err := r.guard.AllowCronFire(ctx, &entry); err != nil {
		outcome := models.CronOutcomeFailure
		switch {
		case errors.Is(err, ErrBreakerOpen):
			outcome = models.CronOutcomeSkippedCBOpen
		case errors.Is(err, ErrOverBudget):
			outcome = models.CronOutcomeSkippedOverBudget
		}
		log.Warn("Fire vetoed", "reason", err)
		r.recordSkip(ctx, entry, outcome, err.Error())
		return
	}

	sess, ephemeral, err := r.resolveSession(ctx, entry)
	if err != nil {
		log.Error("Failed to resolve session for fire", "error", err)
		r.recordSkip(ctx, entry, models.CronOutcomeFailure, fmt.Sprintf("session resolution: %v", err))
		return
	}

	future, err := r.submitWithRetry(ctx, queue.Task{
		AgentID:   entry.AgentID,
		SessionID: sess.ID,
		Kind:      "cron_fire",
		Timeout:   entry.MaxDuration,
		Run: func(taskCtx context.Context) (string, error) {
			return r.runPayload(taskCtx, entry, sess.ID)
		},
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			// The pool stayed saturated through the whole grace period.
			// The tick lapses as a recorded skip, not a failure.
			log.Warn("Pool saturated, fire skipped after deferral")
			r.recordSkip(ctx, entry, models.CronOutcomeSkippedOverBudget, "worker pool saturated")
			r.closeEphemeral(ctx, ephemeral, sess.ID, models.SessionStatusEnded)
			return
		}
		log.Error("Failed to submit fire", "error", err)
		r.recordSkip(ctx, entry, models.CronOutcomeFailure, fmt.Sprintf("submit: %v", err))
		r.closeEphemeral(ctx, ephemeral, sess.ID, models.SessionStatusFailed)
		return
	}

	execID, err := r.store.BeginCronExecution(ctx, entry.ID, sess.ID)
	if err != nil {
		log.Error("Failed to open execution row", "error", err)
		return
	}

	res, err := future.Wait(ctx)
	if err != nil {
		// The process is shutting down; the open execution row becomes
		// a startup orphan for the next run.
		return
	}

	switch {
	case res.Err == nil:
		r.finish(ctx, execID, models.CronOutcomeSuccess, "")
		r.closeEphemeral(ctx, ephemeral, sess.ID, models.SessionStatusEnded)
	case errors.Is(res.Err, context.DeadlineExceeded):
		r.finish(ctx, execID, models.CronOutcomeTimeout, fmt.Sprintf("exceeded max_duration %s", entry.MaxDuration))
		r.closeEphemeral(ctx, ephemeral, sess.ID, models.SessionStatusFailed)
	default:
		r.finish(ctx, execID, models.CronOutcomeFailure, res.Err.Error())
		r.closeEphemeral(ctx, ephemeral, sess.ID, models.SessionStatusFailed)
	}
}

// submitWithRetry hands the task to the pool, waiting out short bursts
// of queue pressure. Errors other than a full queue return immediately.
func (r *Runner) submitWithRetry(ctx context.Context, task queue.Task) (*queue.Future, error) {
	deadline := time.Now().Add(submitGrace)
	for {
		future, err := r.pool.Submit(task)
		if err == nil || !errors.Is(err, queue.ErrQueueFull) {
			return future, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(submitRetryDelay):
		}
	}
}

// runPayload delivers the payload as a user turn, retrying per the
// entry's retry budget. Retries stop as soon as the task context dies.
func (r *Runner) runPayload(ctx context.Context, entry models.CronEntry, sessionID string) (string, error) {
	attempts := entry.RetryCount + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		reply, err := r.sessions.Send(ctx, sessionID, models.RoleUser, entry.Payload)
		if err == nil {
			return reply.Content, nil
		}
		lastErr = err
		if i < attempts-1 {
			slog.Warn("Cron payload attempt failed, retrying",
				"cron", entry.Name, "attempt", i+1, "error", err)
		}
	}
	return "", lastErr
}

// resolveSession maps the entry's session mode onto a concrete session.
func (r *Runner) resolveSession(ctx context.Context, entry models.CronEntry) (sess *models.ChatSession, ephemeral bool, err error) {
	switch entry.SessionMode {
	case models.SessionModeSharedByJob:
		// One durable conversation per entry, keyed by entry ID.
		sess, err = r.sessions.Resume(ctx, entry.AgentID, "cron:"+entry.ID, models.SessionTypeCron)
		return sess, false, err

	case models.SessionModeParentOfAgent:
		// All of the agent's cron work shares the agent-level session.
		sess, err = r.sessions.Resume(ctx, entry.AgentID, "agent:"+entry.AgentID, models.SessionTypeCron)
		return sess, false, err

	default: // ephemeral
		sess, err = r.sessions.Start(ctx, models.CreateSessionParams{
			AgentID:     entry.AgentID,
			SessionType: models.SessionTypeCron,
			Metadata:    map[string]any{"cron_id": entry.ID, "cron_name": entry.Name},
		})
		return sess, true, err
	}
}

func (r *Runner) closeEphemeral(ctx context.Context, ephemeral bool, sessionID string, status models.SessionStatus) {
	if !ephemeral {
		return
	}
	if err := r.sessions.End(ctx, sessionID, status); err != nil {
		slog.Error("Failed to close ephemeral cron session", "session_id", sessionID, "error", err)
	}
}

func (r *Runner) finish(ctx context.Context, execID int64, outcome models.CronOutcome, msg string) {
	if err := r.store.FinishCronExecution(ctx, execID, outcome, msg); err != nil {
		slog.Error("Failed to finish execution row", "exec_id", execID, "error", err)
	}
}

func (r *Runner) recordSkip(ctx context.Context, entry models.CronEntry, outcome models.CronOutcome, reason string) {
	if err := r.store.RecordCronSkip(ctx, entry.ID, outcome, reason); err != nil {
		slog.Error("Failed to record skip", "cron_id", entry.ID, "error", err)
	}
}
