package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/store"
)

// AgentView joins an agent's roster spec with its last heartbeat.
type AgentView struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Fallbacks    []string `json:"fallbacks,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
	LastSeenAt   string   `json:"last_seen_at,omitempty"`
}

func (s *Server) listAgentsHandler(c *gin.Context) {
	states, err := s.store.ListAgentStates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	byID := make(map[string]store.AgentState, len(states))
	for _, st := range states {
		byID[st.AgentID] = st
	}

	agents := s.cfg.Current().Agents.GetAll()
	out := make([]AgentView, 0, len(agents))
	for id, spec := range agents {
		out = append(out, agentView(id, spec, byID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	resp := gin.H{"agents": out, "count": len(out)}
	if s.pool != nil {
		resp["pheromones"] = s.pool.Pheromones().Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getAgentHandler(c *gin.Context) {
	id := c.Param("id")
	spec, err := s.cfg.Current().Agent(id)
	if err != nil {
		respondError(c, err)
		return
	}

	states, err := s.store.ListAgentStates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	byID := make(map[string]store.AgentState, len(states))
	for _, st := range states {
		byID[st.AgentID] = st
	}

	activity, err := s.store.ListActivity(c.Request.Context(), id, 20)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent":    agentView(id, spec, byID),
		"activity": activity,
	})
}

func (s *Server) listActivityHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := s.store.ListActivity(c.Request.Context(), c.Query("agent_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func agentView(id string, spec *config.AgentSpec, states map[string]store.AgentState) AgentView {
	view := AgentView{
		ID:           id,
		Model:        spec.Model,
		Fallbacks:    spec.Fallbacks,
		Role:         string(spec.Role),
		Capabilities: spec.Capabilities,
		Status:       "unknown",
	}
	if st, ok := states[id]; ok {
		view.Status = st.Status
		view.LastSeenAt = st.LastSeenAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return view
}
