package store

import (
	"context"
	"fmt"
	"time"

	"github.com/moltworks/colony/pkg/models"
)

// AgentState is one heartbeat row per agent.
type AgentState struct {
	AgentID    string         `json:"agent_id"`
	Status     string         `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// TouchAgentState upserts an agent's heartbeat.
func (s *Store) TouchAgentState(ctx context.Context, agentID, status string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_states (agent_id, status, last_seen_at, detail)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen_at = now(),
			detail = EXCLUDED.detail`,
		agentID, status, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to touch agent state: %w", err)
	}
	return nil
}

// ListAgentStates returns all agent heartbeats.
func (s *Store) ListAgentStates(ctx context.Context) ([]AgentState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, status, last_seen_at, detail FROM agent_states ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent states: %w", err)
	}
	defer rows.Close()

	var out []AgentState
	for rows.Next() {
		var st AgentState
		if err := rows.Scan(&st.AgentID, &st.Status, &st.LastSeenAt, &st.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan agent state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordActivity appends one activity log row.
func (s *Store) RecordActivity(ctx context.Context, agentID, kind string, detail map[string]any) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_log (agent_id, kind, detail)
		VALUES ($1, $2, $3)`,
		agentID, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// PruneActivity deletes activity rows older than the cutoff.
func (s *Store) PruneActivity(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activity_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActivity returns recent activity rows, newest first, optionally
// filtered by agent.
func (s *Store) ListActivity(ctx context.Context, agentID string, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, agent_id, kind, detail, created_at FROM activity_log`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1 ORDER BY id DESC LIMIT $2`
		args = append(args, agentID, limit)
	} else {
		query += ` ORDER BY id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEvent
	for rows.Next() {
		var e models.ActivityEvent
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
