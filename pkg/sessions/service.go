package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/store"
)

// Gateway is the completion surface the service needs from pkg/llm.
type Gateway interface {
	Complete(ctx context.Context, agentID, sessionID string, req llm.ChatRequest) (*llm.Result, error)
}

// Skills resolves an agent's capability list into tool schemas.
type Skills interface {
	ToolSpecs(capabilities []string) []llm.ToolSpec
}

// Service runs conversation turns: append the inbound message, compose
// the trimmed history, call the gateway, persist the reply with its
// accounting, and keep the session totals current.
type Service struct {
	store   *store.Store
	gateway Gateway
	cfg     *config.Provider
	skills  Skills
	window  int
}

// NewService creates a session service.
func NewService(st *store.Store, gateway Gateway, cfg *config.Provider) *Service {
	return &Service{
		store:   st,
		gateway: gateway,
		cfg:     cfg,
		window:  DefaultHistoryWindow,
	}
}

// UseSkills attaches a skill registry. Agents then carry the tool
// schemas of their capabilities on every turn.
func (s *Service) UseSkills(skills Skills) {
	s.skills = skills
}

// Start creates a new session for an agent after checking the agent exists.
func (s *Service) Start(ctx context.Context, params models.CreateSessionParams) (*models.ChatSession, error) {
	agent, err := s.cfg.Current().Agent(params.AgentID)
	if err != nil {
		return nil, err
	}
	if params.Model == "" {
		params.Model = agent.Model
	}
	return s.store.CreateSession(ctx, params)
}

// Resume returns the shared session for (agent, externalID), creating it
// when none is active.
func (s *Service) Resume(ctx context.Context, agentID, externalID string, sessionType models.SessionType) (*models.ChatSession, error) {
	sess, err := s.store.FindSharedSession(ctx, agentID, externalID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.Start(ctx, models.CreateSessionParams{
		AgentID:           agentID,
		SessionType:       sessionType,
		ExternalSessionID: externalID,
	})
}

// Send appends a user-side message to the session and runs one model
// turn. The inbound append is idempotent: re-sending the same content
// coalesces instead of duplicating the turn in history.
//
// When every candidate fails or the turn times out, Send records a
// synthetic assistant message with finish_reason "error" and returns it
// together with the error. The session stays active either way.
func (s *Service) Send(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, store.ErrSessionClosed
	}

	agent, err := s.cfg.Current().Agent(sess.AgentID)
	if err != nil {
		return nil, err
	}

	_, inserted, err := s.store.AppendMessage(ctx, models.AppendMessageParams{
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		ContentHash: ContentHash(role, content),
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		slog.Debug("Inbound message coalesced", "session_id", sessionID)
	}

	history, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var tools []llm.ToolSpec
	if s.skills != nil {
		tools = s.skills.ToolSpecs(agent.Capabilities)
	}

	result, err := s.gateway.Complete(ctx, sess.AgentID, sessionID, llm.ChatRequest{
		Messages: ComposeHistory(agent.SystemPrompt, history, s.window),
		Tools:    tools,
	})
	if err != nil {
		if errors.Is(err, llm.ErrExhausted) || errors.Is(err, context.DeadlineExceeded) {
			return s.appendFailedTurn(ctx, sessionID, err)
		}
		return nil, fmt.Errorf("completion failed for session %s: %w", sessionID, err)
	}

	resp := result.Response
	reply, _, err := s.store.AppendMessage(ctx, models.AppendMessageParams{
		SessionID:    sessionID,
		Role:         models.RoleAssistant,
		Content:      resp.Content,
		ContentHash:  ContentHash(models.RoleAssistant, resp.Content),
		Model:        result.Model,
		InputTokens:  &resp.InputTokens,
		OutputTokens: &resp.OutputTokens,
		CostUSD:      &result.CostUSD,
		LatencyMS:    &result.LatencyMS,
		FinishReason: resp.FinishReason,
		ToolCalls:    resp.ToolCalls,
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// appendFailedTurn records a synthetic assistant message for a turn no
// candidate could serve, or that ran out of time. The session stays
// active; the message comes back alongside the original error so
// interactive callers can show the failed turn while batch callers
// still see the failure.
func (s *Service) appendFailedTurn(ctx context.Context, sessionID string, cause error) (*models.Message, error) {
	content := "The agent could not complete this turn: all model candidates failed."
	if errors.Is(cause, context.DeadlineExceeded) {
		content = "The agent could not complete this turn: the turn timed out."
	}

	// The task context may already be dead; the record still has to land.
	reply, _, appendErr := s.store.AppendMessage(context.WithoutCancel(ctx), models.AppendMessageParams{
		SessionID:    sessionID,
		Role:         models.RoleAssistant,
		Content:      content,
		ContentHash:  ContentHash(models.RoleAssistant, content),
		FinishReason: "error",
	})
	wrapped := fmt.Errorf("completion failed for session %s: %w", sessionID, cause)
	if appendErr != nil {
		slog.Error("Failed to record failed turn", "session_id", sessionID, "error", appendErr)
		return nil, wrapped
	}
	return reply, wrapped
}

// End moves a session to a terminal state.
func (s *Service) End(ctx context.Context, sessionID string, status models.SessionStatus) error {
	return s.store.EndSession(ctx, sessionID, status)
}

// Detail returns a session with its messages.
func (s *Service) Detail(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	return s.store.GetSessionDetail(ctx, sessionID)
}
