package models

import "time"

// ToolCall is one tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON
}

// Message is one append-only entry in a session's conversation.
// Within a session no two messages share a ContentHash; a duplicate
// append is coalesced and returns the original message.
type Message struct {
	ID           int64      `json:"id"`
	SessionID    string     `json:"session_id"`
	Role         Role       `json:"role"`
	Content      string     `json:"content"`
	ContentHash  string     `json:"content_hash"`
	Model        string     `json:"model,omitempty"`
	InputTokens  *int64     `json:"input_tokens,omitempty"`
	OutputTokens *int64     `json:"output_tokens,omitempty"`
	CostUSD      *float64   `json:"cost_usd,omitempty"`
	LatencyMS    *int64     `json:"latency_ms,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AppendMessageParams are the inputs for appending a message to a session.
// ContentHash must be precomputed by the session layer (see sessions.ContentHash).
type AppendMessageParams struct {
	SessionID    string
	Role         Role
	Content      string
	ContentHash  string
	Model        string
	InputTokens  *int64
	OutputTokens *int64
	CostUSD      *float64
	LatencyMS    *int64
	FinishReason string
	ToolCalls    []ToolCall
}
