package sessions

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/store"
	"github.com/moltworks/colony/test/util"
)

type fakeGateway struct {
	reply    string
	err      error
	requests []llm.ChatRequest
}

func (f *fakeGateway) Complete(_ context.Context, _, _ string, req llm.ChatRequest) (*llm.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{
		Response: &llm.ChatResponse{
			Content:      f.reply,
			FinishReason: "stop",
			InputTokens:  100,
			OutputTokens: 30,
		},
		Model:     "test-model",
		Provider:  "test",
		LatencyMS: 42,
		CostUSD:   0.005,
	}, nil
}

func serviceCatalog() *config.Catalog {
	return &config.Catalog{
		TierOrder: []models.Tier{models.TierLocal},
		Models: config.NewModelRegistry(map[string]*config.ModelSpec{
			"test-model": {ID: "test-model", Provider: "p", Tier: models.TierLocal, ContextWindow: 8192},
		}),
		Agents: config.NewAgentRegistry(map[string]*config.AgentSpec{
			"overseer": {ID: "overseer", Model: "test-model", Role: models.AgentRoleCoordinator,
				SystemPrompt: "you coordinate the colony"},
		}),
	}
}

func setupService(t *testing.T, gw Gateway) (*Service, *store.Store) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	st := store.New(util.SetupTestDatabase(t))
	return NewService(st, gw, config.NewStaticProvider(serviceCatalog())), st
}

func TestService_SendTurn(t *testing.T) {
	gw := &fakeGateway{reply: "on it"}
	svc, st := setupService(t, gw)
	ctx := context.Background()

	sess, err := svc.Start(ctx, models.CreateSessionParams{
		AgentID:     "overseer",
		SessionType: models.SessionTypeInteractive,
	})
	require.NoError(t, err)
	assert.Equal(t, "test-model", sess.Model)

	reply, err := svc.Send(ctx, sess.ID, models.RoleUser, "status report please")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "on it", reply.Content)
	require.NotNil(t, reply.InputTokens)
	assert.Equal(t, int64(100), *reply.InputTokens)

	// The gateway saw the system prompt plus the user turn.
	require.Len(t, gw.requests, 1)
	sent := gw.requests[0].Messages
	require.Len(t, sent, 2)
	assert.Equal(t, "system", sent[0].Role)
	assert.Equal(t, "you coordinate the colony", sent[0].Content)
	assert.Equal(t, "status report please", sent[1].Content)

	// Session totals were folded in.
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.InputTokens)
	assert.Equal(t, int64(30), got.OutputTokens)
	assert.InDelta(t, 0.005, got.CostUSD, 1e-9)
}

func TestService_SendAllCandidatesFail(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("%w: every provider dark", llm.ErrExhausted)}
	svc, st := setupService(t, gw)
	ctx := context.Background()

	sess, err := svc.Start(ctx, models.CreateSessionParams{
		AgentID:     "overseer",
		SessionType: models.SessionTypeInteractive,
	})
	require.NoError(t, err)

	// The failed turn comes back as an assistant message so interactive
	// callers can render it, while the error still surfaces.
	reply, err := svc.Send(ctx, sess.ID, models.RoleUser, "status report please")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrExhausted)
	require.NotNil(t, reply)
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "error", reply.FinishReason)
	assert.Contains(t, reply.Content, "all model candidates failed")

	// The session survives with both turns on record.
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, got.Status)
	msgs, err := st.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "error", msgs[1].FinishReason)
}

func TestService_SendToEndedSession(t *testing.T) {
	svc, _ := setupService(t, &fakeGateway{reply: "x"})
	ctx := context.Background()

	sess, err := svc.Start(ctx, models.CreateSessionParams{
		AgentID:     "overseer",
		SessionType: models.SessionTypeInteractive,
	})
	require.NoError(t, err)
	require.NoError(t, svc.End(ctx, sess.ID, models.SessionStatusEnded))

	_, err = svc.Send(ctx, sess.ID, models.RoleUser, "anyone there?")
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestService_StartUnknownAgent(t *testing.T) {
	svc, _ := setupService(t, &fakeGateway{})
	_, err := svc.Start(context.Background(), models.CreateSessionParams{
		AgentID:     "ghost",
		SessionType: models.SessionTypeInteractive,
	})
	assert.ErrorIs(t, err, config.ErrAgentNotFound)
}

func TestService_ResumeSharedSession(t *testing.T) {
	svc, _ := setupService(t, &fakeGateway{reply: "x"})
	ctx := context.Background()

	first, err := svc.Resume(ctx, "overseer", "job-7", models.SessionTypeCron)
	require.NoError(t, err)

	again, err := svc.Resume(ctx, "overseer", "job-7", models.SessionTypeCron)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, svc.End(ctx, first.ID, models.SessionStatusEnded))
	fresh, err := svc.Resume(ctx, "overseer", "job-7", models.SessionTypeCron)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
}

func TestExportJSONLAndTranscript(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	detail := &models.SessionDetail{
		ChatSession: models.ChatSession{ID: "s1", AgentID: "overseer", Status: models.SessionStatusEnded},
		Messages: []models.Message{
			{ID: 1, SessionID: "s1", Role: models.RoleUser, Content: "hi", CreatedAt: now},
			{ID: 2, SessionID: "s1", Role: models.RoleAssistant, Content: "", Model: "test-model",
				ToolCalls: []models.ToolCall{{ID: "c1", Name: "spawn_agent", Arguments: `{"agent":"scout"}`}},
				CreatedAt: now},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(&buf, detail))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"content":"hi"`)

	text := Transcript(detail)
	assert.Contains(t, text, "session s1")
	assert.Contains(t, text, "user")
	assert.Contains(t, text, "tool spawn_agent")
}
