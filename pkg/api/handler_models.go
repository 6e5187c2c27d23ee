package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/moltworks/colony/pkg/queue"
)

// ModelView joins a catalog model with its current pheromone score.
type ModelView struct {
	ID            string  `json:"id"`
	Provider      string  `json:"provider"`
	Tier          string  `json:"tier"`
	SupportsTools bool    `json:"supports_tools"`
	Score         float64 `json:"score"`
}

func (s *Server) listModelsHandler(c *gin.Context) {
	specs := s.cfg.Current().Models.GetAll()
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ranked, err := queue.RankModels(c.Request.Context(), s.store, ids)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]ModelView, 0, len(ranked))
	for _, r := range ranked {
		spec := specs[r.Model]
		out = append(out, ModelView{
			ID:            r.Model,
			Provider:      spec.Provider,
			Tier:          string(spec.Tier),
			SupportsTools: spec.SupportsTools,
			Score:         r.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out, "count": len(out)})
}
