package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/sessions"
	"github.com/moltworks/colony/pkg/store"
)

const maxMessageLength = 100_000

// CreateSessionRequest is the body for POST /api/v1/chat/sessions.
type CreateSessionRequest struct {
	AgentID     string         `json:"agent_id" binding:"required"`
	Model       string         `json:"model"`
	SessionType string         `json:"session_type"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createSessionHandler(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionType := models.SessionTypeInteractive
	if req.SessionType != "" {
		sessionType = models.SessionType(req.SessionType)
		if !sessionType.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_type"})
			return
		}
	}

	sess, err := s.sessions.Start(c.Request.Context(), models.CreateSessionParams{
		AgentID:     req.AgentID,
		Model:       req.Model,
		SessionType: sessionType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessionsHandler(c *gin.Context) {
	filter := store.SessionFilter{
		AgentID: c.Query("agent_id"),
		Limit:   50,
	}
	if v := c.Query("status"); v != "" {
		status := models.SessionStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = status
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}

	list, err := s.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}

func (s *Server) getSessionHandler(c *gin.Context) {
	detail, err := s.sessions.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// SendMessageRequest is the body for POST /chat/sessions/:id/messages.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) sendMessageHandler(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Content) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content too long"})
		return
	}

	reply, err := s.sessions.Send(c.Request.Context(), c.Param("id"), models.RoleUser, req.Content)
	if err != nil {
		// A failed turn still produces an assistant message with
		// finish_reason "error"; the caller gets that, not a bare 502.
		if reply == nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) endSessionHandler(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if s.pool != nil {
		s.pool.CancelSession(sessionID)
	}
	if s.cascade != nil {
		if n, err := s.cascade.CancelDescendants(ctx, sessionID); err == nil && n > 0 {
			c.Set("descendants_cancelled", n)
		}
	}

	if err := s.sessions.End(ctx, sessionID, models.SessionStatusEnded); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (s *Server) exportSessionHandler(c *gin.Context) {
	detail, err := s.sessions.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	switch c.DefaultQuery("format", "jsonl") {
	case "jsonl":
		c.Header("Content-Type", "application/x-ndjson")
		if err := sessions.ExportJSONL(c.Writer, detail); err != nil {
			respondError(c, err)
		}
	case "text":
		c.String(http.StatusOK, sessions.Transcript(detail))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be jsonl or text"})
	}
}
