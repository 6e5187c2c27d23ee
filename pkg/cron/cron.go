// Package cron schedules persisted entries with standard cron
// expressions and turns each due entry into an agent task, with overlap
// protection, safety vetoes, and bounded execution history.
package cron

import (
	"context"
	"errors"
	"time"

	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/queue"
	"github.com/moltworks/colony/pkg/store"
)

// Veto reasons a guard may return from AllowCronFire. The runner maps
// them onto skip outcomes in the execution history.
var (
	// ErrBreakerOpen vetoes a fire while the target agent's provider
	// breaker is open.
	ErrBreakerOpen = errors.New("provider breaker open")

	// ErrOverBudget vetoes a fire that would exceed a spawn or
	// concurrency budget.
	ErrOverBudget = errors.New("over budget")
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	ListCrons(ctx context.Context) ([]models.CronEntry, error)
	GetCron(ctx context.Context, id string) (*models.CronEntry, error)
	SetCronRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error
	SetCronNextRun(ctx context.Context, id string, nextRun time.Time) error
	BeginCronExecution(ctx context.Context, cronID, sessionID string) (int64, error)
	FinishCronExecution(ctx context.Context, execID int64, outcome models.CronOutcome, errMsg string) error
	RecordCronSkip(ctx context.Context, cronID string, outcome models.CronOutcome, reason string) error
	RunningExecution(ctx context.Context, cronID string) (*models.CronExecution, error)
	UpsertCronSeed(ctx context.Context, entry *models.CronEntry) (*models.CronEntry, error)
}

// Sessions is the conversation surface the runner needs.
type Sessions interface {
	Start(ctx context.Context, params models.CreateSessionParams) (*models.ChatSession, error)
	Resume(ctx context.Context, agentID, externalID string, sessionType models.SessionType) (*models.ChatSession, error)
	Send(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error)
	End(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// Submitter is the pool surface the runner needs.
type Submitter interface {
	Submit(task queue.Task) (*queue.Future, error)
}

// Guard vetoes fires before any session is touched. A nil error allows.
type Guard interface {
	AllowCronFire(ctx context.Context, entry *models.CronEntry) error
}

// compile-time check: the real store satisfies the interface.
var _ Store = (*store.Store)(nil)
