package store

import (
	"context"
	"fmt"
	"time"

	"github.com/moltworks/colony/pkg/models"
)

// RecordUsage appends one accounting row. Every LLM call attempt is
// recorded, failed ones included.
func (s *Store) RecordUsage(ctx context.Context, u *models.ModelUsage) error {
	var sid *string
	if u.SessionID != "" {
		sid = &u.SessionID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_usage (model, provider, input_tokens, output_tokens, cost_usd, latency_ms, success, error_message, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.Model, u.Provider, u.InputTokens, u.OutputTokens, u.CostUSD,
		u.LatencyMS, u.Success, u.ErrorMessage, sid,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageSample is one row of the recent-call window used for model scoring.
type UsageSample struct {
	Success   bool
	LatencyMS int64
	CostUSD   float64
	CreatedAt time.Time
}

// RecentUsage returns up to limit most recent call samples for a model,
// newest first.
func (s *Store) RecentUsage(ctx context.Context, model string, limit int) ([]UsageSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT success, latency_ms, cost_usd, created_at
		FROM model_usage
		WHERE model = $1
		ORDER BY id DESC
		LIMIT $2`,
		model, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent usage: %w", err)
	}
	defer rows.Close()

	var out []UsageSample
	for rows.Next() {
		var u UsageSample
		if err := rows.Scan(&u.Success, &u.LatencyMS, &u.CostUSD, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage sample: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PruneUsage deletes accounting rows older than the cutoff. Scoring
// only ever looks at a recent window, so old rows are dead weight.
func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM model_usage WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UsageTotals is an aggregate over model_usage for reporting.
type UsageTotals struct {
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	Failures     int64   `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageSince aggregates per-model usage after the cutoff.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]UsageTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model,
		       count(*),
		       count(*) FILTER (WHERE NOT success),
		       COALESCE(sum(input_tokens), 0),
		       COALESCE(sum(output_tokens), 0),
		       COALESCE(sum(cost_usd), 0)
		FROM model_usage
		WHERE created_at >= $1
		GROUP BY model
		ORDER BY model`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []UsageTotals
	for rows.Next() {
		var t UsageTotals
		if err := rows.Scan(&t.Model, &t.Calls, &t.Failures, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan usage totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
