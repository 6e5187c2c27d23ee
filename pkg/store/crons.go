package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/moltworks/colony/pkg/models"
)

// executionHistoryKeep is how many execution rows survive per entry.
const executionHistoryKeep = 100

const cronColumns = `id, name, schedule, enabled, payload, agent_id, session_mode,
	max_duration, retry_count, last_run_at, next_run_at, created_at, updated_at`

func scanCron(row pgx.Row) (*models.CronEntry, error) {
	var entry models.CronEntry
	var maxDurationNS int64
	err := row.Scan(
		&entry.ID, &entry.Name, &entry.Schedule, &entry.Enabled, &entry.Payload,
		&entry.AgentID, &entry.SessionMode, &maxDurationNS, &entry.RetryCount,
		&entry.LastRunAt, &entry.NextRunAt, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan cron entry: %w", err)
	}
	entry.MaxDuration = time.Duration(maxDurationNS)
	return &entry, nil
}

// CreateCron inserts a new entry. Names are unique; a duplicate returns
// ErrConflict.
func (s *Store) CreateCron(ctx context.Context, entry *models.CronEntry) (*models.CronEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SessionMode == "" {
		entry.SessionMode = models.SessionModeEphemeral
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO cron_entries (id, name, schedule, enabled, payload, agent_id, session_mode, max_duration, retry_count, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+cronColumns,
		entry.ID, entry.Name, entry.Schedule, entry.Enabled, entry.Payload,
		entry.AgentID, entry.SessionMode, int64(entry.MaxDuration), entry.RetryCount, entry.NextRunAt,
	)
	created, err := scanCron(row)
	if err != nil && isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: cron name %q already exists", ErrConflict, entry.Name)
	}
	return created, err
}

// UpsertCronSeed reconciles one entry from cron_jobs.yaml. Seeded fields
// win over stored ones so the file stays canonical for entries it names;
// runtime fields (last_run_at, next_run_at) are preserved.
func (s *Store) UpsertCronSeed(ctx context.Context, entry *models.CronEntry) (*models.CronEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO cron_entries (id, name, schedule, enabled, payload, agent_id, session_mode, max_duration, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			schedule = EXCLUDED.schedule,
			enabled = EXCLUDED.enabled,
			payload = EXCLUDED.payload,
			agent_id = EXCLUDED.agent_id,
			session_mode = EXCLUDED.session_mode,
			max_duration = EXCLUDED.max_duration,
			retry_count = EXCLUDED.retry_count,
			updated_at = now()
		RETURNING `+cronColumns,
		entry.ID, entry.Name, entry.Schedule, entry.Enabled, entry.Payload,
		entry.AgentID, entry.SessionMode, int64(entry.MaxDuration), entry.RetryCount,
	)
	return scanCron(row)
}

// UpdateCronParams holds mutable cron fields; nil means leave unchanged.
type UpdateCronParams struct {
	Schedule    *string
	Enabled     *bool
	Payload     *string
	AgentID     *string
	SessionMode *models.SessionMode
	MaxDuration *time.Duration
	RetryCount  *int
}

// UpdateCron applies a partial update and returns the fresh row. A
// schedule change clears next_run_at so the scheduler replans from the
// new expression instead of honoring a due time the old one produced.
func (s *Store) UpdateCron(ctx context.Context, id string, params UpdateCronParams) (*models.CronEntry, error) {
	var maxDurationNS *int64
	if params.MaxDuration != nil {
		ns := int64(*params.MaxDuration)
		maxDurationNS = &ns
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE cron_entries SET
			schedule     = COALESCE($2, schedule),
			enabled      = COALESCE($3, enabled),
			payload      = COALESCE($4, payload),
			agent_id     = COALESCE($5, agent_id),
			session_mode = COALESCE($6, session_mode),
			max_duration = COALESCE($7, max_duration),
			retry_count  = COALESCE($8, retry_count),
			next_run_at  = CASE WHEN $2::text IS NULL THEN next_run_at ELSE NULL END,
			updated_at   = now()
		WHERE id = $1
		RETURNING `+cronColumns,
		id, params.Schedule, params.Enabled, params.Payload, params.AgentID,
		params.SessionMode, maxDurationNS, params.RetryCount,
	)
	return scanCron(row)
}

// DeleteCron removes an entry and, via FK cascade, its history.
func (s *Store) DeleteCron(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cron_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCron fetches one entry by ID.
func (s *Store) GetCron(ctx context.Context, id string) (*models.CronEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM cron_entries WHERE id = $1`, id)
	return scanCron(row)
}

// ListCrons returns all entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]models.CronEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM cron_entries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cron entries: %w", err)
	}
	defer rows.Close()

	var out []models.CronEntry
	for rows.Next() {
		entry, err := scanCron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// SetCronRunTimes records a fire's wall-clock bookkeeping.
func (s *Store) SetCronRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cron_entries SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`,
		id, lastRun, nextRun,
	)
	if err != nil {
		return fmt.Errorf("failed to set cron run times: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCronNextRun rewrites only the planned due time, used when the
// scheduler replans a tick that went stale during downtime.
func (s *Store) SetCronNextRun(ctx context.Context, id string, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cron_entries SET next_run_at = $2, updated_at = now()
		WHERE id = $1`,
		id, nextRun,
	)
	if err != nil {
		return fmt.Errorf("failed to set cron next run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BeginCronExecution opens a history row for one fire and returns its ID.
func (s *Store) BeginCronExecution(ctx context.Context, cronID, sessionID string) (int64, error) {
	var id int64
	var sid *string
	if sessionID != "" {
		sid = &sessionID
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cron_executions (cron_id, session_id)
		VALUES ($1, $2)
		RETURNING id`,
		cronID, sid,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cron execution: %w", err)
	}
	return id, nil
}

// FinishCronExecution closes a history row and trims old history so each
// entry keeps at most executionHistoryKeep rows.
func (s *Store) FinishCronExecution(ctx context.Context, execID int64, outcome models.CronOutcome, errMsg string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var cronID string
		err := tx.QueryRow(ctx, `
			UPDATE cron_executions SET ended_at = now(), outcome = $2, error = $3
			WHERE id = $1
			RETURNING cron_id`,
			execID, outcome, errMsg,
		).Scan(&cronID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to finish cron execution: %w", err)
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM cron_executions
			WHERE cron_id = $1 AND id NOT IN (
				SELECT id FROM cron_executions
				WHERE cron_id = $1
				ORDER BY id DESC
				LIMIT $2
			)`,
			cronID, executionHistoryKeep,
		)
		if err != nil {
			return fmt.Errorf("failed to trim cron history: %w", err)
		}
		return nil
	})
}

// RecordCronSkip writes a closed history row for a fire that never started.
func (s *Store) RecordCronSkip(ctx context.Context, cronID string, outcome models.CronOutcome, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cron_executions (cron_id, ended_at, outcome, error)
		VALUES ($1, now(), $2, $3)`,
		cronID, outcome, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record cron skip: %w", err)
	}
	return nil
}

// ListCronExecutions returns an entry's history, newest first.
func (s *Store) ListCronExecutions(ctx context.Context, cronID string, limit int) ([]models.CronExecution, error) {
	if limit <= 0 || limit > executionHistoryKeep {
		limit = executionHistoryKeep
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, cron_id, started_at, ended_at, outcome, COALESCE(session_id, ''), error
		FROM cron_executions
		WHERE cron_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		cronID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cron executions: %w", err)
	}
	defer rows.Close()

	var out []models.CronExecution
	for rows.Next() {
		var e models.CronExecution
		if err := rows.Scan(&e.ID, &e.CronID, &e.StartedAt, &e.EndedAt, &e.Outcome, &e.SessionID, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan cron execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OpenExecutions returns every execution row without an end time, across
// all entries. After a crash these are orphans the startup cleanup closes.
func (s *Store) OpenExecutions(ctx context.Context) ([]models.CronExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cron_id, started_at, ended_at, outcome, COALESCE(session_id, ''), error
		FROM cron_executions
		WHERE ended_at IS NULL
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open executions: %w", err)
	}
	defer rows.Close()

	var out []models.CronExecution
	for rows.Next() {
		var e models.CronExecution
		if err := rows.Scan(&e.ID, &e.CronID, &e.StartedAt, &e.EndedAt, &e.Outcome, &e.SessionID, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan cron execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunningExecution returns the open execution for an entry, if any.
// Ephemeral-mode entries use this for the overlap check.
func (s *Store) RunningExecution(ctx context.Context, cronID string) (*models.CronExecution, error) {
	var e models.CronExecution
	err := s.pool.QueryRow(ctx, `
		SELECT id, cron_id, started_at, ended_at, outcome, COALESCE(session_id, ''), error
		FROM cron_executions
		WHERE cron_id = $1 AND ended_at IS NULL
		ORDER BY id DESC
		LIMIT 1`,
		cronID,
	).Scan(&e.ID, &e.CronID, &e.StartedAt, &e.EndedAt, &e.Outcome, &e.SessionID, &e.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query running execution: %w", err)
	}
	return &e, nil
}
