package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
)

// SpawnGuard vetoes child creation that would exceed depth or budget.
type SpawnGuard interface {
	AllowSpawn(ctx context.Context, parentSessionID string) error
}

// SpawnSessions is the session surface the spawn skill drives.
type SpawnSessions interface {
	Start(ctx context.Context, params models.CreateSessionParams) (*models.ChatSession, error)
	Send(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error)
}

// SpawnSkill lets a coordinator agent delegate work to a sub-agent. It
// opens a child session under the caller's session and, when a prompt
// is given, runs the first turn before returning.
type SpawnSkill struct {
	guard    SpawnGuard
	sessions SpawnSessions
}

// NewSpawnSkill creates the built-in spawn capability.
func NewSpawnSkill(guard SpawnGuard, sessions SpawnSessions) *SpawnSkill {
	return &SpawnSkill{guard: guard, sessions: sessions}
}

func (s *SpawnSkill) Name() string { return "spawn" }

func (s *SpawnSkill) Functions() []llm.ToolSpec {
	return []llm.ToolSpec{{
		Name:        "spawn_agent",
		Description: "Delegate a task to a sub-agent. Opens a child session and returns its first reply.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"parent_session_id": map[string]any{
					"type":        "string",
					"description": "Session of the calling agent",
				},
				"agent_id": map[string]any{
					"type":        "string",
					"description": "Sub-agent to delegate to",
				},
				"prompt": map[string]any{
					"type":        "string",
					"description": "Initial task description for the sub-agent",
				},
			},
			"required": []string{"parent_session_id", "agent_id"},
		},
	}}
}

type spawnArgs struct {
	ParentSessionID string `json:"parent_session_id"`
	AgentID         string `json:"agent_id"`
	Prompt          string `json:"prompt"`
}

type spawnResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply,omitempty"`
}

func (s *SpawnSkill) Invoke(ctx context.Context, function string, args json.RawMessage) (json.RawMessage, error) {
	if function != "spawn_agent" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}

	var in spawnArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("bad spawn_agent arguments: %w", err)
	}
	if in.ParentSessionID == "" || in.AgentID == "" {
		return nil, fmt.Errorf("spawn_agent requires parent_session_id and agent_id")
	}

	if err := s.guard.AllowSpawn(ctx, in.ParentSessionID); err != nil {
		return nil, err
	}

	child, err := s.sessions.Start(ctx, models.CreateSessionParams{
		AgentID:         in.AgentID,
		SessionType:     models.SessionTypeSubAgent,
		ParentSessionID: &in.ParentSessionID,
	})
	if err != nil {
		return nil, err
	}

	out := spawnResult{SessionID: child.ID}
	if in.Prompt != "" {
		reply, err := s.sessions.Send(ctx, child.ID, models.RoleUser, in.Prompt)
		if err != nil {
			return nil, fmt.Errorf("sub-agent first turn failed: %w", err)
		}
		out.Reply = reply.Content
	}
	return json.Marshal(out)
}
