package models

import "time"

// ChatSession is one agent conversation: an ordered message list plus
// running totals and lifecycle status. Sub-agent sessions carry a
// ParentSessionID pointing at the session that spawned them.
type ChatSession struct {
	ID                string         `json:"id"`
	AgentID           string         `json:"agent_id"`
	SessionType       SessionType    `json:"session_type"`
	Status            SessionStatus  `json:"status"`
	Model             string         `json:"model,omitempty"`
	ExternalSessionID string         `json:"external_session_id,omitempty"`
	ParentSessionID   *string        `json:"parent_session_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	InputTokens       int64          `json:"input_tokens"`
	OutputTokens      int64          `json:"output_tokens"`
	CostUSD           float64        `json:"cost_usd"`
	LastActivityAt    time.Time      `json:"last_activity_at"`
	CreatedAt         time.Time      `json:"created_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
}

// Active reports whether the session can still receive messages.
func (s *ChatSession) Active() bool {
	return s.Status == SessionStatusActive
}

// CreateSessionParams are the inputs for creating a chat session.
type CreateSessionParams struct {
	AgentID           string
	SessionType       SessionType
	Model             string
	ParentSessionID   *string
	ExternalSessionID string
	Metadata          map[string]any
}

// SessionDetail is a session with its ordered messages, as returned by
// the session read API.
type SessionDetail struct {
	ChatSession
	Messages []Message `json:"messages"`
}
