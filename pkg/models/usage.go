package models

import "time"

// ModelUsage is one append-only accounting row per LLM call attempt,
// successful or not.
type ModelUsage struct {
	ID           int64     `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMS    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActivityEvent is an append-only activity log row emitted when a pool
// task completes. External collaborators poll these; the core never
// reads them back.
type ActivityEvent struct {
	ID        int64          `json:"id"`
	AgentID   string         `json:"agent_id"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
