// Package api is the HTTP facade over the runtime: chat sessions, cron
// management, agent visibility, and health. Dashboards and external
// skills are clients of this surface, never of the packages below it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/queue"
	"github.com/moltworks/colony/pkg/store"
)

// SessionService is the conversation surface the handlers call.
type SessionService interface {
	Start(ctx context.Context, params models.CreateSessionParams) (*models.ChatSession, error)
	Send(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error)
	End(ctx context.Context, sessionID string, status models.SessionStatus) error
	Detail(ctx context.Context, sessionID string) (*models.SessionDetail, error)
}

// Store is the persistence surface the handlers read and mutate.
type Store interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.ChatSession, error)
	CreateCron(ctx context.Context, entry *models.CronEntry) (*models.CronEntry, error)
	GetCron(ctx context.Context, id string) (*models.CronEntry, error)
	ListCrons(ctx context.Context) ([]models.CronEntry, error)
	UpdateCron(ctx context.Context, id string, params store.UpdateCronParams) (*models.CronEntry, error)
	DeleteCron(ctx context.Context, id string) error
	ListCronExecutions(ctx context.Context, cronID string, limit int) ([]models.CronExecution, error)
	RunningExecution(ctx context.Context, cronID string) (*models.CronExecution, error)
	ListAgentStates(ctx context.Context) ([]store.AgentState, error)
	ListActivity(ctx context.Context, agentID string, limit int) ([]models.ActivityEvent, error)
	RecentUsage(ctx context.Context, model string, limit int) ([]store.UsageSample, error)
}

// CronControl is what the handlers need from the scheduler side: wake
// it after entry changes and fire an entry out of schedule.
type CronControl interface {
	Notify()
	Fire(ctx context.Context, entry models.CronEntry)
}

// Cascade cancels the live descendants of a session being ended.
type Cascade interface {
	CancelDescendants(ctx context.Context, sessionID string) (int, error)
}

// Health reports component status for the health endpoint.
type Health interface {
	BreakerStates() map[string]string
	PoolStats() queue.Stats
	PingDB(ctx context.Context) error
}

// Server wires the handlers to the runtime components.
type Server struct {
	cfg        *config.Provider
	sessions   SessionService
	store      Store
	cron       CronControl
	cascade    Cascade
	health     Health
	pool       *queue.Pool
	adminToken string

	httpSrv *http.Server
}

// Options carries the server dependencies.
type Options struct {
	Config     *config.Provider
	Sessions   SessionService
	Store      Store
	Cron       CronControl
	Cascade    Cascade
	Health     Health
	Pool       *queue.Pool
	AdminToken string
}

// NewServer creates the API server. An empty AdminToken disables auth,
// which is only sensible for local development.
func NewServer(opts Options) *Server {
	if opts.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, mutating API routes are unauthenticated")
	}
	return &Server{
		cfg:        opts.Config,
		sessions:   opts.Sessions,
		store:      opts.Store,
		cron:       opts.Cron,
		cascade:    opts.Cascade,
		health:     opts.Health,
		pool:       opts.Pool,
		adminToken: opts.AdminToken,
	}
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	r.GET("/ws/chat/:session_id", s.wsChatHandler)

	v1 := r.Group("/api/v1")
	v1.Use(requireBearer(s.adminToken))
	{
		v1.POST("/chat/sessions", s.createSessionHandler)
		v1.GET("/chat/sessions", s.listSessionsHandler)
		v1.GET("/chat/sessions/:id", s.getSessionHandler)
		v1.DELETE("/chat/sessions/:id", s.endSessionHandler)
		v1.POST("/chat/sessions/:id/messages", s.sendMessageHandler)
		v1.GET("/chat/sessions/:id/export", s.exportSessionHandler)

		v1.GET("/cron", s.listCronsHandler)
		v1.POST("/cron", s.createCronHandler)
		v1.GET("/cron/status", s.cronStatusHandler)
		v1.GET("/cron/:id", s.getCronHandler)
		v1.PUT("/cron/:id", s.updateCronHandler)
		v1.DELETE("/cron/:id", s.deleteCronHandler)
		v1.POST("/cron/:id/trigger", s.triggerCronHandler)
		v1.GET("/cron/:id/history", s.cronHistoryHandler)

		v1.GET("/agents", s.listAgentsHandler)
		v1.GET("/agents/:id", s.getAgentHandler)
		v1.GET("/activity", s.listActivityHandler)
		v1.GET("/models", s.listModelsHandler)

		v1.POST("/config/reload", s.reloadConfigHandler)
	}

	return r
}

// Start begins serving on addr. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger logs one line per request in slog key-value style.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
