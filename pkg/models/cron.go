package models

import "time"

// CronEntry is a persisted schedule: an expression, a payload, and a
// target agent. Entries are created and mutated via the API and reloaded
// on startup; next_run_at is recomputed from the wall clock, never replayed.
type CronEntry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Schedule    string        `json:"schedule"` // 5- or 6-field cron expression, UTC
	Enabled     bool          `json:"enabled"`
	Payload     string        `json:"payload"`
	AgentID     string        `json:"agent_id"`
	SessionMode SessionMode   `json:"session_mode"`
	MaxDuration time.Duration `json:"max_duration"`
	RetryCount  int           `json:"retry_count"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time    `json:"next_run_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CronExecution is one append-only history row for a cron fire.
type CronExecution struct {
	ID        int64       `json:"id"`
	CronID    string      `json:"cron_id"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Outcome   CronOutcome `json:"outcome"`
	SessionID string      `json:"session_id,omitempty"`
	Error     string      `json:"error,omitempty"`
}
