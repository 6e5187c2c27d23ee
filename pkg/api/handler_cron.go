package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/store"
)

// CronRequest is the body for creating or updating a cron entry. On
// update, absent fields keep their stored values.
type CronRequest struct {
	Name        string  `json:"name"`
	Schedule    *string `json:"schedule"`
	Enabled     *bool   `json:"enabled"`
	Payload     *string `json:"payload"`
	AgentID     *string `json:"agent_id"`
	SessionMode *string `json:"session_mode"`
	MaxDuration *string `json:"max_duration"` // Go duration string, e.g. "5m"
	RetryCount  *int    `json:"retry_count"`
}

func (s *Server) listCronsHandler(c *gin.Context) {
	entries, err := s.store.ListCrons(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) createCronHandler(c *gin.Context) {
	var req CronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" || req.Schedule == nil || req.Payload == nil || req.AgentID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, schedule, payload and agent_id are required"})
		return
	}
	if !gronx.New().IsValid(*req.Schedule) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule expression"})
		return
	}
	if _, err := s.cfg.Current().Agent(*req.AgentID); err != nil {
		respondError(c, err)
		return
	}

	entry := &models.CronEntry{
		Name:     req.Name,
		Schedule: *req.Schedule,
		Payload:  *req.Payload,
		AgentID:  *req.AgentID,
		Enabled:  true,
	}
	if req.Enabled != nil {
		entry.Enabled = *req.Enabled
	}
	if req.SessionMode != nil {
		entry.SessionMode = models.SessionMode(*req.SessionMode)
		if !entry.SessionMode.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_mode"})
			return
		}
	}
	if req.MaxDuration != nil {
		d, err := time.ParseDuration(*req.MaxDuration)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_duration"})
			return
		}
		entry.MaxDuration = d
	}
	if req.RetryCount != nil {
		if *req.RetryCount < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "retry_count must be >= 0"})
			return
		}
		entry.RetryCount = *req.RetryCount
	}

	created, err := s.store.CreateCron(c.Request.Context(), entry)
	if err != nil {
		respondError(c, err)
		return
	}
	s.cron.Notify()
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getCronHandler(c *gin.Context) {
	entry, err := s.store.GetCron(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) updateCronHandler(c *gin.Context) {
	var req CronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := store.UpdateCronParams{
		Schedule:   req.Schedule,
		Enabled:    req.Enabled,
		Payload:    req.Payload,
		AgentID:    req.AgentID,
		RetryCount: req.RetryCount,
	}
	if req.Schedule != nil && !gronx.New().IsValid(*req.Schedule) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule expression"})
		return
	}
	if req.AgentID != nil {
		if _, err := s.cfg.Current().Agent(*req.AgentID); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.SessionMode != nil {
		mode := models.SessionMode(*req.SessionMode)
		if !mode.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_mode"})
			return
		}
		params.SessionMode = &mode
	}
	if req.MaxDuration != nil {
		d, err := time.ParseDuration(*req.MaxDuration)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_duration"})
			return
		}
		params.MaxDuration = &d
	}

	updated, err := s.store.UpdateCron(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		respondError(c, err)
		return
	}
	s.cron.Notify()
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteCronHandler(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// Deleting a running entry cancels its in-flight task.
	if exec, err := s.store.RunningExecution(ctx, id); err == nil && s.pool != nil && exec.SessionID != "" {
		s.pool.CancelSession(exec.SessionID)
	}

	if err := s.store.DeleteCron(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	s.cron.Notify()
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) triggerCronHandler(c *gin.Context) {
	entry, err := s.store.GetCron(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Manual fires run on the runtime's lifetime, not the request's.
	go s.cron.Fire(context.WithoutCancel(c.Request.Context()), *entry)
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "cron_id": entry.ID})
}

func (s *Server) cronHistoryHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	// 404 for unknown entries rather than an empty history.
	if _, err := s.store.GetCron(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	execs, err := s.store.ListCronExecutions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

// cronStatusHandler is the scheduler's at-a-glance view: whether the
// loop is wired, which entries have a fire in flight, and the worker
// ceiling those fires share.
func (s *Server) cronStatusHandler(c *gin.Context) {
	entries, err := s.store.ListCrons(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	activeIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, err := s.store.RunningExecution(c.Request.Context(), e.ID); err == nil {
			activeIDs = append(activeIDs, e.ID)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"running":           s.cron != nil,
		"active_executions": len(activeIDs),
		"active_job_ids":    activeIDs,
		"max_concurrent":    s.health.PoolStats().Workers,
	})
}
