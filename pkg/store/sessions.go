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

const sessionColumns = `id, agent_id, session_type, status, model, external_session_id,
	parent_session_id, metadata, input_tokens, output_tokens, cost_usd,
	last_activity_at, created_at, ended_at`

func scanSession(row pgx.Row) (*models.ChatSession, error) {
	var sess models.ChatSession
	err := row.Scan(
		&sess.ID, &sess.AgentID, &sess.SessionType, &sess.Status, &sess.Model,
		&sess.ExternalSessionID, &sess.ParentSessionID, &sess.Metadata,
		&sess.InputTokens, &sess.OutputTokens, &sess.CostUSD,
		&sess.LastActivityAt, &sess.CreatedAt, &sess.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}

// CreateSession inserts a new active session and returns it.
func (s *Store) CreateSession(ctx context.Context, params models.CreateSessionParams) (*models.ChatSession, error) {
	if !params.SessionType.IsValid() {
		return nil, fmt.Errorf("%w: invalid session type %q", ErrConflict, params.SessionType)
	}
	if params.Metadata == nil {
		params.Metadata = map[string]any{}
	}

	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, agent_id, session_type, model, external_session_id, parent_session_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		id, params.AgentID, params.SessionType, params.Model,
		params.ExternalSessionID, params.ParentSessionID, params.Metadata,
	)
	return scanSession(row)
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetSessionDetail fetches a session with its ordered messages.
func (s *Store) GetSessionDetail(ctx context.Context, id string) (*models.SessionDetail, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SessionDetail{ChatSession: *sess, Messages: msgs}, nil
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	AgentID     string
	Status      models.SessionStatus
	SessionType models.SessionType
	Limit       int
}

// ListSessions returns sessions newest first, optionally filtered.
func (s *Store) ListSessions(ctx context.Context, filter SessionFilter) ([]models.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE 1=1`
	args := []any{}
	n := 0
	if filter.AgentID != "" {
		n++
		query += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.SessionType != "" {
		n++
		query += fmt.Sprintf(" AND session_type = $%d", n)
		args = append(args, filter.SessionType)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// FindSharedSession returns the most recent active session matching the
// external key for the agent, or ErrNotFound. Cron entries in
// shared_by_job mode use the entry ID as the external key.
func (s *Store) FindSharedSession(ctx context.Context, agentID, externalID string) (*models.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE agent_id = $1 AND external_session_id = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`,
		agentID, externalID,
	)
	return scanSession(row)
}

// EndSession moves an active session to a terminal status. Ending an
// already-terminal session returns ErrSessionClosed; the stored terminal
// status never changes after the first transition.
func (s *Store) EndSession(ctx context.Context, id string, status models.SessionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrConflict, status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_sessions
		SET status = $2, ended_at = now(), last_activity_at = now()
		WHERE id = $1 AND status = 'active'`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-ended.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrSessionClosed
	}
	return nil
}

// TouchSession bumps last_activity_at without other changes.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET last_activity_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveChildren counts live sub-agent sessions under a parent.
// The safety layer enforces the per-parent spawn cap against this.
func (s *Store) CountActiveChildren(ctx context.Context, parentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM chat_sessions
		WHERE parent_session_id = $1 AND status = 'active'`,
		parentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count children: %w", err)
	}
	return count, nil
}

// ActiveChildren returns the live sub-agent sessions under a parent,
// oldest first. The cancel cascade walks these.
func (s *Store) ActiveChildren(ctx context.Context, parentID string) ([]models.ChatSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE parent_session_id = $1 AND status = 'active'
		ORDER BY created_at`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// SessionDepth walks the parent chain and returns the depth of the given
// session (root sessions have depth 0). A recursive CTE keeps it to one
// round trip; the walk is capped to break pathological cycles.
func (s *Store) SessionDepth(ctx context.Context, id string) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_session_id, 0 AS depth
			FROM chat_sessions WHERE id = $1
			UNION ALL
			SELECT cs.id, cs.parent_session_id, chain.depth + 1
			FROM chat_sessions cs
			JOIN chain ON cs.id = chain.parent_session_id
			WHERE chain.depth < 32
		)
		SELECT max(depth) FROM chain`,
		id,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to compute session depth: %w", err)
	}
	return depth, nil
}

// StaleSessions returns active sessions whose last activity is older than
// the cutoff. The safety sweeper force-ends what this returns.
func (s *Store) StaleSessions(ctx context.Context, olderThan time.Time) ([]models.ChatSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stale sessions: %w", err)
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// PruneSessions deletes terminal sessions that ended before the cutoff.
// Their messages go with them via the FK cascade.
func (s *Store) PruneSessions(ctx context.Context, endedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM chat_sessions
		WHERE status IN ('ended', 'failed') AND ended_at < $1`,
		endedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveSessions returns all active sessions, used on startup to recover
// work interrupted by a crash.
func (s *Store) ActiveSessions(ctx context.Context) ([]models.ChatSession, error) {
	return s.ListSessions(ctx, SessionFilter{Status: models.SessionStatusActive})
}
