package skill

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/models"
)

type fakeSpawnGuard struct {
	err     error
	parents []string
}

func (f *fakeSpawnGuard) AllowSpawn(_ context.Context, parentSessionID string) error {
	f.parents = append(f.parents, parentSessionID)
	return f.err
}

type fakeSpawnSessions struct {
	started []models.CreateSessionParams
	sent    map[string]string
}

func (f *fakeSpawnSessions) Start(_ context.Context, params models.CreateSessionParams) (*models.ChatSession, error) {
	f.started = append(f.started, params)
	return &models.ChatSession{ID: "child-1", AgentID: params.AgentID, SessionType: params.SessionType}, nil
}

func (f *fakeSpawnSessions) Send(_ context.Context, sessionID string, role models.Role, content string) (*models.Message, error) {
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[sessionID] = content
	return &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: "done: " + content}, nil
}

func spawnCall(t *testing.T, s *SpawnSkill, args spawnArgs) (spawnResult, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	out, err := s.Invoke(context.Background(), "spawn_agent", raw)
	if err != nil {
		return spawnResult{}, err
	}
	var res spawnResult
	require.NoError(t, json.Unmarshal(out, &res))
	return res, nil
}

func TestSpawnSkill_OpensChildAndRunsFirstTurn(t *testing.T) {
	guard := &fakeSpawnGuard{}
	sess := &fakeSpawnSessions{}
	s := NewSpawnSkill(guard, sess)

	res, err := spawnCall(t, s, spawnArgs{
		ParentSessionID: "parent-1", AgentID: "scout", Prompt: "scan the feeds",
	})
	require.NoError(t, err)

	assert.Equal(t, "child-1", res.SessionID)
	assert.Equal(t, "done: scan the feeds", res.Reply)
	assert.Equal(t, []string{"parent-1"}, guard.parents)

	require.Len(t, sess.started, 1)
	started := sess.started[0]
	assert.Equal(t, "scout", started.AgentID)
	assert.Equal(t, models.SessionTypeSubAgent, started.SessionType)
	require.NotNil(t, started.ParentSessionID)
	assert.Equal(t, "parent-1", *started.ParentSessionID)
}

func TestSpawnSkill_NoPromptSkipsFirstTurn(t *testing.T) {
	sess := &fakeSpawnSessions{}
	s := NewSpawnSkill(&fakeSpawnGuard{}, sess)

	res, err := spawnCall(t, s, spawnArgs{ParentSessionID: "parent-1", AgentID: "scout"})
	require.NoError(t, err)

	assert.Empty(t, res.Reply)
	assert.Empty(t, sess.sent)
}

func TestSpawnSkill_GuardVetoBlocksSpawn(t *testing.T) {
	veto := errors.New("spawn budget exhausted")
	sess := &fakeSpawnSessions{}
	s := NewSpawnSkill(&fakeSpawnGuard{err: veto}, sess)

	_, err := spawnCall(t, s, spawnArgs{ParentSessionID: "parent-1", AgentID: "scout"})
	assert.ErrorIs(t, err, veto)
	assert.Empty(t, sess.started)
}

func TestSpawnSkill_ArgumentValidation(t *testing.T) {
	s := NewSpawnSkill(&fakeSpawnGuard{}, &fakeSpawnSessions{})

	_, err := spawnCall(t, s, spawnArgs{AgentID: "scout"})
	assert.Error(t, err)

	_, err = s.Invoke(context.Background(), "launch_rocket", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownFunction)
}
