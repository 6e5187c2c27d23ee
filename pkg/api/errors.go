package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/store"
)

// respondError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func respondError(c *gin.Context, err error) {
	var callErr *llm.CallError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session is closed"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	case errors.Is(err, config.ErrAgentNotFound), errors.Is(err, config.ErrModelNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, llm.ErrExhausted):
		c.JSON(http.StatusBadGateway, gin.H{"error": "all model candidates failed"})
	case errors.As(err, &callErr) && !callErr.Transient():
		// The provider rejected the request itself, so retrying or
		// failing over cannot help the caller.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": callErr.Error()})
	case errors.Is(err, llm.ErrNoCandidates):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no model candidates available"})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
