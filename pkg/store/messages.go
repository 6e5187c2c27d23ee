package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/moltworks/colony/pkg/models"
)

const messageColumns = `id, session_id, role, content, content_hash, model, tool_calls,
	finish_reason, input_tokens, output_tokens, cost_usd, latency_ms, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ContentHash,
		&msg.Model, &msg.ToolCalls, &msg.FinishReason,
		&msg.InputTokens, &msg.OutputTokens, &msg.CostUSD, &msg.LatencyMS,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}

// AppendMessage appends a message to an active session. Appends are
// idempotent per (session, content_hash): a duplicate is coalesced and
// the original row comes back with inserted=false. A transaction-scoped
// advisory lock on the session ID serializes concurrent appenders so the
// dedup check and the insert are one atomic step.
func (s *Store) AppendMessage(ctx context.Context, params models.AppendMessageParams) (msg *models.Message, inserted bool, err error) {
	if !params.Role.IsValid() {
		return nil, false, fmt.Errorf("%w: invalid role %q", ErrConflict, params.Role)
	}
	if params.ContentHash == "" {
		return nil, false, fmt.Errorf("%w: content hash is required", ErrConflict)
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, params.SessionID); err != nil {
			return fmt.Errorf("failed to acquire session lock: %w", err)
		}

		var status models.SessionStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM chat_sessions WHERE id = $1`, params.SessionID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to check session status: %w", err)
		}
		if status.Terminal() {
			return ErrSessionClosed
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO messages (session_id, role, content, content_hash, model, tool_calls,
				finish_reason, input_tokens, output_tokens, cost_usd, latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (session_id, content_hash) DO NOTHING
			RETURNING `+messageColumns,
			params.SessionID, params.Role, params.Content, params.ContentHash,
			params.Model, params.ToolCalls, params.FinishReason,
			params.InputTokens, params.OutputTokens, params.CostUSD, params.LatencyMS,
		)
		msg, err = scanMessage(row)
		if err == nil {
			inserted = true
			// Session totals move with the message in the same
			// transaction so a reader never sees one without the other.
			var inTokens, outTokens int64
			var cost float64
			if params.InputTokens != nil {
				inTokens = *params.InputTokens
			}
			if params.OutputTokens != nil {
				outTokens = *params.OutputTokens
			}
			if params.CostUSD != nil {
				cost = *params.CostUSD
			}
			_, err = tx.Exec(ctx, `
				UPDATE chat_sessions
				SET input_tokens = input_tokens + $2,
				    output_tokens = output_tokens + $3,
				    cost_usd = cost_usd + $4,
				    last_activity_at = now()
				WHERE id = $1`,
				params.SessionID, inTokens, outTokens, cost)
			return err
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		// Conflict path: hand back the original row.
		row = tx.QueryRow(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE session_id = $1 AND content_hash = $2`,
			params.SessionID, params.ContentHash,
		)
		msg, err = scanMessage(row)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return msg, inserted, nil
}

// ListMessages returns a session's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE session_id = $1
		ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
