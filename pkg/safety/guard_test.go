package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/cron"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/skill"
	"github.com/moltworks/colony/pkg/store"
)

type fakeBreakers struct {
	open map[string]bool // modelID → provider dark
}

func (f *fakeBreakers) ProviderAvailable(modelID string) bool {
	return !f.open[modelID]
}

type fakeGuardStore struct {
	children map[string]int
	depth    map[string]int
	sessions []models.ChatSession
}

func (f *fakeGuardStore) CountActiveChildren(_ context.Context, parentID string) (int, error) {
	return f.children[parentID], nil
}

func (f *fakeGuardStore) SessionDepth(_ context.Context, id string) (int, error) {
	return f.depth[id], nil
}

func (f *fakeGuardStore) ListSessions(_ context.Context, filter store.SessionFilter) ([]models.ChatSession, error) {
	var out []models.ChatSession
	for _, s := range f.sessions {
		if filter.AgentID != "" && s.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.SessionType != "" && s.SessionType != filter.SessionType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func guardProvider() *config.Provider {
	return config.NewStaticProvider(&config.Catalog{
		Agents: config.NewAgentRegistry(map[string]*config.AgentSpec{
			"overseer": {ID: "overseer", Model: "claude-paid", Fallbacks: []string{"deepseek-free"},
				Role: models.AgentRoleCoordinator},
		}),
		Safety: &config.SafetyConfig{
			MaxChildren:   3,
			MaxDepth:      2,
			StaleTimeout:  time.Hour,
			SweepInterval: 5 * time.Minute,
		},
	})
}

func cronEntry() *models.CronEntry {
	return &models.CronEntry{
		ID: "c1", Name: "digest", AgentID: "overseer",
		SessionMode: models.SessionModeEphemeral,
	}
}

func TestAllowCronFire_AllClear(t *testing.T) {
	g := NewGuard(guardProvider(), &fakeGuardStore{}, &fakeBreakers{})
	assert.NoError(t, g.AllowCronFire(context.Background(), cronEntry()))
}

func TestAllowCronFire_UnknownAgent(t *testing.T) {
	g := NewGuard(guardProvider(), &fakeGuardStore{}, &fakeBreakers{})
	entry := cronEntry()
	entry.AgentID = "ghost"
	assert.Error(t, g.AllowCronFire(context.Background(), entry))
}

func TestAllowCronFire_BreakerVeto(t *testing.T) {
	tests := []struct {
		name string
		open map[string]bool
		veto bool
	}{
		{"primary dark, fallback alive", map[string]bool{"claude-paid": true}, false},
		{"fallback dark, primary alive", map[string]bool{"deepseek-free": true}, false},
		{"everything dark", map[string]bool{"claude-paid": true, "deepseek-free": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(guardProvider(), &fakeGuardStore{}, &fakeBreakers{open: tt.open})
			err := g.AllowCronFire(context.Background(), cronEntry())
			if tt.veto {
				assert.ErrorIs(t, err, cron.ErrBreakerOpen)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllowCronFire_EphemeralSessionBudget(t *testing.T) {
	st := &fakeGuardStore{}
	for i := 0; i < 3; i++ {
		st.sessions = append(st.sessions, models.ChatSession{
			ID: fmt.Sprintf("s%d", i), AgentID: "overseer",
			SessionType: models.SessionTypeCron, Status: models.SessionStatusActive,
		})
	}
	g := NewGuard(guardProvider(), st, &fakeBreakers{})

	err := g.AllowCronFire(context.Background(), cronEntry())
	assert.ErrorIs(t, err, cron.ErrOverBudget)

	// Shared modes reuse one session, so the budget does not apply.
	shared := cronEntry()
	shared.SessionMode = models.SessionModeSharedByJob
	assert.NoError(t, g.AllowCronFire(context.Background(), shared))
}

// treeSessions backs the spawn skill with the guard store so each
// spawned child lands one level below its parent.
type treeSessions struct {
	st     *fakeGuardStore
	nextID int
}

func (f *treeSessions) Start(_ context.Context, params models.CreateSessionParams) (*models.ChatSession, error) {
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.st.depth[id] = f.st.depth[*params.ParentSessionID] + 1
	return &models.ChatSession{ID: id, AgentID: params.AgentID, SessionType: params.SessionType}, nil
}

func (f *treeSessions) Send(_ context.Context, sessionID string, _ models.Role, content string) (*models.Message, error) {
	return &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: content}, nil
}

func TestSpawnChainStopsAtDepthCap(t *testing.T) {
	st := &fakeGuardStore{
		children: map[string]int{},
		depth:    map[string]int{"root": 0},
	}
	g := NewGuard(guardProvider(), st, &fakeBreakers{})
	sk := skill.NewSpawnSkill(g, &treeSessions{st: st})
	ctx := context.Background()

	// A root session may delegate one level down.
	out, err := sk.Invoke(ctx, "spawn_agent",
		json.RawMessage(`{"parent_session_id":"root","agent_id":"overseer"}`))
	require.NoError(t, err)
	var res struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, 1, st.depth[res.SessionID])

	// The child delegating again would land a session at the depth cap.
	_, err = sk.Invoke(ctx, "spawn_agent",
		json.RawMessage(fmt.Sprintf(`{"parent_session_id":%q,"agent_id":"overseer"}`, res.SessionID)))
	assert.ErrorIs(t, err, ErrDepthExceeded)
}

func TestAllowSpawn(t *testing.T) {
	tests := []struct {
		name     string
		children int
		depth    int
		wantErr  error
	}{
		{"fresh parent", 0, 0, nil},
		{"room to spare", 2, 0, nil},
		{"at child cap", 3, 0, ErrSpawnBudget},
		{"child would land at depth cap", 0, 1, ErrDepthExceeded},
		{"beyond depth cap", 0, 2, ErrDepthExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeGuardStore{
				children: map[string]int{"parent": tt.children},
				depth:    map[string]int{"parent": tt.depth},
			}
			g := NewGuard(guardProvider(), st, &fakeBreakers{})

			err := g.AllowSpawn(context.Background(), "parent")
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
