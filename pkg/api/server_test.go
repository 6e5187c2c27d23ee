package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/queue"
	"github.com/moltworks/colony/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSessionService is an in-memory SessionService.
type fakeSessionService struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]*models.SessionDetail
	sendErr  error
	failTurn bool // return a finish_reason=error message plus the error
}

func newFakeSessionService() *fakeSessionService {
	return &fakeSessionService{sessions: make(map[string]*models.SessionDetail)}
}

func (f *fakeSessionService) Start(_ context.Context, params models.CreateSessionParams) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.AgentID != "overseer" {
		return nil, config.ErrAgentNotFound
	}
	f.nextID++
	sess := models.ChatSession{
		ID:          fmt.Sprintf("sess-%d", f.nextID),
		AgentID:     params.AgentID,
		SessionType: params.SessionType,
		Status:      models.SessionStatusActive,
		CreatedAt:   time.Now(),
	}
	f.sessions[sess.ID] = &models.SessionDetail{ChatSession: sess}
	return &sess, nil
}

func (f *fakeSessionService) Send(_ context.Context, sessionID string, role models.Role, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	detail, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if detail.Status != models.SessionStatusActive {
		return nil, store.ErrSessionClosed
	}
	if f.failTurn {
		msg := models.Message{
			ID: int64(len(detail.Messages) + 1), SessionID: sessionID,
			Role: models.RoleAssistant, Content: "The agent could not complete this turn.",
			FinishReason: "error",
		}
		return &msg, fmt.Errorf("completion failed for session %s: %w", sessionID, llm.ErrExhausted)
	}
	detail.Messages = append(detail.Messages, models.Message{
		ID: int64(len(detail.Messages) + 1), SessionID: sessionID, Role: role, Content: content,
	})
	reply := models.Message{
		ID: int64(len(detail.Messages) + 1), SessionID: sessionID,
		Role: models.RoleAssistant, Content: "reply to: " + content, Model: "claude-paid",
	}
	detail.Messages = append(detail.Messages, reply)
	return &reply, nil
}

func (f *fakeSessionService) End(_ context.Context, sessionID string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if detail.Status != models.SessionStatusActive {
		return store.ErrSessionClosed
	}
	detail.Status = status
	return nil
}

func (f *fakeSessionService) Detail(_ context.Context, sessionID string) (*models.SessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *detail
	return &copied, nil
}

// fakeAPIStore is an in-memory Store.
type fakeAPIStore struct {
	mu      sync.Mutex
	crons   map[string]*models.CronEntry
	execs   map[string][]models.CronExecution
	states  []store.AgentState
	events  []models.ActivityEvent
	running map[string]string // cronID → sessionID
	usage   map[string][]store.UsageSample
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		crons:   make(map[string]*models.CronEntry),
		execs:   make(map[string][]models.CronExecution),
		running: make(map[string]string),
		usage:   make(map[string][]store.UsageSample),
	}
}

func (f *fakeAPIStore) ListSessions(context.Context, store.SessionFilter) ([]models.ChatSession, error) {
	return nil, nil
}

func (f *fakeAPIStore) CreateCron(_ context.Context, entry *models.CronEntry) (*models.CronEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.crons {
		if e.Name == entry.Name {
			return nil, fmt.Errorf("%w: duplicate name", store.ErrConflict)
		}
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("cron-%d", len(f.crons)+1)
	}
	f.crons[entry.ID] = entry
	return entry, nil
}

func (f *fakeAPIStore) GetCron(_ context.Context, id string) (*models.CronEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.crons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeAPIStore) ListCrons(context.Context) ([]models.CronEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CronEntry
	for _, e := range f.crons {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeAPIStore) UpdateCron(_ context.Context, id string, params store.UpdateCronParams) (*models.CronEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.crons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if params.Schedule != nil {
		e.Schedule = *params.Schedule
	}
	if params.Enabled != nil {
		e.Enabled = *params.Enabled
	}
	if params.Payload != nil {
		e.Payload = *params.Payload
	}
	return e, nil
}

func (f *fakeAPIStore) DeleteCron(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.crons[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.crons, id)
	return nil
}

func (f *fakeAPIStore) ListCronExecutions(_ context.Context, cronID string, _ int) ([]models.CronExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[cronID], nil
}

func (f *fakeAPIStore) RunningExecution(_ context.Context, cronID string) (*models.CronExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sid, ok := f.running[cronID]; ok {
		return &models.CronExecution{CronID: cronID, SessionID: sid}, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeAPIStore) ListAgentStates(context.Context) ([]store.AgentState, error) {
	return f.states, nil
}

func (f *fakeAPIStore) RecentUsage(_ context.Context, model string, _ int) ([]store.UsageSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[model], nil
}

func (f *fakeAPIStore) ListActivity(_ context.Context, agentID string, _ int) ([]models.ActivityEvent, error) {
	var out []models.ActivityEvent
	for _, e := range f.events {
		if agentID == "" || e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCronControl struct {
	mu       sync.Mutex
	notified int
	fired    []string
}

func (f *fakeCronControl) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
}

func (f *fakeCronControl) Fire(_ context.Context, entry models.CronEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, entry.ID)
}

type fakeHealth struct {
	dbErr error
}

func (f *fakeHealth) BreakerStates() map[string]string { return map[string]string{"local": "closed"} }
func (f *fakeHealth) PoolStats() queue.Stats           { return queue.Stats{Workers: 5} }
func (f *fakeHealth) PingDB(context.Context) error     { return f.dbErr }

type testHarness struct {
	srv      *Server
	router   *gin.Engine
	sessions *fakeSessionService
	store    *fakeAPIStore
	cron     *fakeCronControl
	health   *fakeHealth
}

func newHarness(t *testing.T, adminToken string) *testHarness {
	t.Helper()
	h := &testHarness{
		sessions: newFakeSessionService(),
		store:    newFakeAPIStore(),
		cron:     &fakeCronControl{},
		health:   &fakeHealth{},
	}
	cfg := config.NewStaticProvider(&config.Catalog{
		Agents: config.NewAgentRegistry(map[string]*config.AgentSpec{
			"overseer": {ID: "overseer", Model: "claude-paid", Role: models.AgentRoleCoordinator},
		}),
		Models: config.NewModelRegistry(map[string]*config.ModelSpec{
			"claude-paid":   {ID: "claude-paid", Provider: "anthropic", Tier: models.TierPaid, SupportsTools: true},
			"deepseek-free": {ID: "deepseek-free", Provider: "openrouter", Tier: models.TierFree},
		}),
	})
	h.srv = NewServer(Options{
		Config:     cfg,
		Sessions:   h.sessions,
		Store:      h.store,
		Cron:       h.cron,
		Health:     h.health,
		AdminToken: adminToken,
	})
	h.router = h.srv.Router()
	return h
}

func (h *testHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	h := newHarness(t, "secret")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "overseer"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/chat/sessions", "wrong", map[string]any{"agent_id": "overseer"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/chat/sessions", "secret", map[string]any{"agent_id": "overseer"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Reads stay open.
	w = h.do(http.MethodGet, "/api/v1/cron", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health is outside the group.
	w = h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatLifecycle(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "overseer"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.ID)

	w = h.do(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", "", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var reply models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "reply to: hello", reply.Content)

	w = h.do(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodDelete, "/api/v1/chat/sessions/"+sess.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Second end conflicts, send to closed session conflicts.
	w = h.do(http.MethodDelete, "/api/v1/chat/sessions/"+sess.ID, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.do(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", "", map[string]any{"content": "anyone?"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendMessageFailedTurnReturnsMessage(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "overseer"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	// The turn fails but still yields an assistant message: the caller
	// gets that message, not a gateway error status.
	h.sessions.failTurn = true
	w = h.do(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", "", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var reply models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "error", reply.FinishReason)
}

func TestSendMessageInvariantRejection(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "overseer"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	// A provider 4xx means the request itself is unservable.
	h.sessions.sendErr = &llm.CallError{
		Provider: "anthropic", Model: "claude-paid",
		StatusCode: http.StatusBadRequest, Err: errors.New("prompt too long"),
	}
	w = h.do(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", "", map[string]any{"content": "hello"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestChatValidation(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "ghost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/v1/chat/sessions/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportSession(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/chat/sessions", "", map[string]any{"agent_id": "overseer"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	h.do(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", "", map[string]any{"content": "hi"})

	w = h.do(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/export", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lines := bytes.Split(bytes.TrimSpace(w.Body.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)

	w = h.do(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/export?format=text", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "session "+sess.ID)

	w = h.do(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/export?format=xml", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCronCRUD(t *testing.T) {
	h := newHarness(t, "")

	body := map[string]any{
		"name": "digest", "schedule": "*/5 * * * *",
		"payload": "compile the digest", "agent_id": "overseer",
	}
	w := h.do(http.MethodPost, "/api/v1/cron", "", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var entry models.CronEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.True(t, entry.Enabled)
	assert.Equal(t, 1, h.cron.notified)

	// Duplicate name conflicts.
	w = h.do(http.MethodPost, "/api/v1/cron", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPut, "/api/v1/cron/"+entry.ID, "", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodDelete, "/api/v1/cron/"+entry.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, h.cron.notified, 3)

	w = h.do(http.MethodGet, "/api/v1/cron/"+entry.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCronStatus(t *testing.T) {
	h := newHarness(t, "")
	h.store.crons["c1"] = &models.CronEntry{ID: "c1", Name: "digest"}
	h.store.crons["c2"] = &models.CronEntry{ID: "c2", Name: "sweep"}
	h.store.running["c2"] = "sess-9"

	w := h.do(http.MethodGet, "/api/v1/cron/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Running          bool     `json:"running"`
		ActiveExecutions int      `json:"active_executions"`
		ActiveJobIDs     []string `json:"active_job_ids"`
		MaxConcurrent    int      `json:"max_concurrent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	assert.Equal(t, 1, resp.ActiveExecutions)
	assert.Equal(t, []string{"c2"}, resp.ActiveJobIDs)
	assert.Equal(t, 5, resp.MaxConcurrent)
}

func TestCronValidation(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodPost, "/api/v1/cron", "", map[string]any{
		"name": "bad", "schedule": "not a cron", "payload": "x", "agent_id": "overseer",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/cron", "", map[string]any{
		"name": "ghostly", "schedule": "* * * * *", "payload": "x", "agent_id": "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/cron", "", map[string]any{
		"name": "halfdone", "schedule": "* * * * *",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCronTrigger(t *testing.T) {
	h := newHarness(t, "")
	h.store.crons["c1"] = &models.CronEntry{ID: "c1", Name: "digest", AgentID: "overseer"}

	w := h.do(http.MethodPost, "/api/v1/cron/c1/trigger", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		h.cron.mu.Lock()
		defer h.cron.mu.Unlock()
		return len(h.cron.fired) == 1
	}, time.Second, 10*time.Millisecond)

	w = h.do(http.MethodPost, "/api/v1/cron/missing/trigger", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCronHistory(t *testing.T) {
	h := newHarness(t, "")
	h.store.crons["c1"] = &models.CronEntry{ID: "c1", Name: "digest"}
	h.store.execs["c1"] = []models.CronExecution{
		{ID: 2, CronID: "c1", Outcome: models.CronOutcomeSuccess},
		{ID: 1, CronID: "c1", Outcome: models.CronOutcomeFailure},
	}

	w := h.do(http.MethodGet, "/api/v1/cron/c1/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = h.do(http.MethodGet, "/api/v1/cron/missing/history", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentViews(t *testing.T) {
	h := newHarness(t, "")
	h.store.states = []store.AgentState{
		{AgentID: "overseer", Status: "idle", LastSeenAt: time.Now()},
	}
	h.store.events = []models.ActivityEvent{
		{ID: 1, AgentID: "overseer", Kind: "task_completed"},
	}

	w := h.do(http.MethodGet, "/api/v1/agents", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Agents []AgentView `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Agents, 1)
	assert.Equal(t, "idle", list.Agents[0].Status)

	w = h.do(http.MethodGet, "/api/v1/agents/overseer", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/v1/agents/ghost", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/v1/activity?agent_id=overseer", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Equal(t, 1, events.Count)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)

	h.health.dbErr = fmt.Errorf("connection refused")
	w = h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListModels(t *testing.T) {
	h := newHarness(t, "")
	now := time.Now()
	h.store.usage["deepseek-free"] = []store.UsageSample{
		{Success: false, LatencyMS: 4000, CreatedAt: now},
		{Success: false, LatencyMS: 4000, CreatedAt: now},
	}
	h.store.usage["claude-paid"] = []store.UsageSample{
		{Success: true, LatencyMS: 800, CostUSD: 0.01, CreatedAt: now},
		{Success: true, LatencyMS: 900, CostUSD: 0.01, CreatedAt: now},
	}

	w := h.do(http.MethodGet, "/api/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Models []ModelView `json:"models"`
		Count  int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)

	assert.Equal(t, "claude-paid", body.Models[0].ID)
	assert.Equal(t, "deepseek-free", body.Models[1].ID)
	assert.Greater(t, body.Models[0].Score, body.Models[1].Score)
}
