package queue

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/moltworks/colony/pkg/store"
)

// Pheromone scoring constants. A model's score blends success rate,
// speed, and cost over its recent call window, with older samples
// decayed so a model that failed last week can redeem itself.
const (
	pheromoneWindow   = 200
	successWeight     = 0.6
	speedWeight       = 0.3
	costWeight        = 0.1
	dailyDecay        = 0.95
	coldStartScore    = 0.5
	speedHalfSeconds  = 30.0
	costHalfMagnitude = 100.0
)

// UsageSource supplies the recent-call window, implemented by the store.
type UsageSource interface {
	RecentUsage(ctx context.Context, model string, limit int) ([]store.UsageSample, error)
}

// Score computes a model's pheromone score in [0, 1] from its recent
// samples. Models with no history get the cold-start score so new
// catalog entries are neither favored nor buried.
func Score(samples []store.UsageSample, now time.Time) float64 {
	if len(samples) == 0 {
		return coldStartScore
	}
	if len(samples) > pheromoneWindow {
		samples = samples[:pheromoneWindow]
	}

	var weightedSum, weightTotal float64
	for _, s := range samples {
		ageDays := now.Sub(s.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Pow(dailyDecay, ageDays)

		success := 0.0
		if s.Success {
			success = 1.0
		}
		speed := 1.0 / (1.0 + float64(s.LatencyMS)/1000.0/speedHalfSeconds)
		cost := 1.0 / (1.0 + s.CostUSD*costHalfMagnitude)

		sample := successWeight*success + speedWeight*speed + costWeight*cost
		weightedSum += sample * decay
		weightTotal += decay
	}
	if weightTotal == 0 {
		return coldStartScore
	}
	return weightedSum / weightTotal
}

type pheromoneKey struct {
	agentID  string
	taskType string
}

// PheromoneBook is the runtime's in-memory pheromone state: a rolling
// window per (agent, task type), updated by the pool after every
// completed invocation. Scores are advisory tie-breakers between
// otherwise equal agents and reset with the process.
type PheromoneBook struct {
	mu      sync.Mutex
	windows map[pheromoneKey][]store.UsageSample
}

// NewPheromoneBook creates an empty book.
func NewPheromoneBook() *PheromoneBook {
	return &PheromoneBook{windows: make(map[pheromoneKey][]store.UsageSample)}
}

// Record appends one completed invocation, keeping the window bounded.
// Per-call cost is accounted on the model usage rows; agent windows
// score success and speed.
func (b *PheromoneBook) Record(agentID, taskType string, success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pheromoneKey{agentID: agentID, taskType: taskType}
	w := append(b.windows[key], store.UsageSample{
		Success:   success,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now(),
	})
	if len(w) > pheromoneWindow {
		w = w[len(w)-pheromoneWindow:]
	}
	b.windows[key] = w
}

// Score returns the pair's current score. Pairs with no history get the
// cold-start score.
func (b *PheromoneBook) Score(agentID, taskType string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Score(b.windows[pheromoneKey{agentID: agentID, taskType: taskType}], time.Now())
}

// AgentScore is one pair's standing for the admin API.
type AgentScore struct {
	AgentID  string  `json:"agent_id"`
	TaskType string  `json:"task_type"`
	Score    float64 `json:"score"`
	Samples  int     `json:"samples"`
}

// Snapshot returns every tracked pair, best first. Equal scores order
// by agent then task type so the output is stable.
func (b *PheromoneBook) Snapshot() []AgentScore {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	out := make([]AgentScore, 0, len(b.windows))
	for key, w := range b.windows {
		out = append(out, AgentScore{
			AgentID:  key.agentID,
			TaskType: key.taskType,
			Score:    Score(w, now),
			Samples:  len(w),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].TaskType < out[j].TaskType
	})
	return out
}

// ModelScore pairs a model with its current pheromone score.
type ModelScore struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
}

// RankModels scores each model and returns them best first. Ties keep
// the caller's order, so candidate-chain position breaks them.
func RankModels(ctx context.Context, src UsageSource, modelIDs []string) ([]ModelScore, error) {
	now := time.Now()
	out := make([]ModelScore, 0, len(modelIDs))
	for _, id := range modelIDs {
		samples, err := src.RecentUsage(ctx, id, pheromoneWindow)
		if err != nil {
			return nil, err
		}
		out = append(out, ModelScore{Model: id, Score: Score(samples, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}
