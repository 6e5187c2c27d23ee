package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler reports the runtime's own components only. Provider
// breakers are informational: an open breaker does not fail the check,
// or an upstream outage would get this process restarted for nothing.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := gin.H{}

	if s.health != nil {
		if err := s.health.PingDB(ctx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = gin.H{"status": healthStatusUnhealthy, "error": err.Error()}
		} else {
			checks["database"] = gin.H{"status": healthStatusHealthy}
		}
		checks["breakers"] = s.health.BreakerStates()
		checks["pool"] = s.health.PoolStats()
	}

	code := http.StatusOK
	if status != healthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": version.Full(),
		"checks":  checks,
	})
}

func (s *Server) reloadConfigHandler(c *gin.Context) {
	catalog, err := s.cfg.Reload()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.cron.Notify()

	c.JSON(http.StatusOK, gin.H{
		"status":  "reloaded",
		"catalog": catalog.Stats(),
	})
}
