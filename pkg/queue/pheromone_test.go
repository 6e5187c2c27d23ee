package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/store"
)

type fakeUsageSource struct {
	samples map[string][]store.UsageSample
}

func (f *fakeUsageSource) RecentUsage(_ context.Context, model string, _ int) ([]store.UsageSample, error) {
	return f.samples[model], nil
}

func sample(success bool, latencyMS int64, cost float64, age time.Duration) store.UsageSample {
	return store.UsageSample{
		Success:   success,
		LatencyMS: latencyMS,
		CostUSD:   cost,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestScore_ColdStart(t *testing.T) {
	assert.Equal(t, coldStartScore, Score(nil, time.Now()))
}

func TestScore_SuccessDominates(t *testing.T) {
	now := time.Now()
	good := []store.UsageSample{
		sample(true, 1000, 0.001, time.Minute),
		sample(true, 1000, 0.001, time.Minute),
	}
	bad := []store.UsageSample{
		sample(false, 1000, 0.001, time.Minute),
		sample(false, 1000, 0.001, time.Minute),
	}

	assert.Greater(t, Score(good, now), Score(bad, now))
	// Failure score can still earn speed and cost credit but never the
	// success share.
	assert.Less(t, Score(bad, now), successWeight)
}

func TestScore_SpeedAndCostMatter(t *testing.T) {
	now := time.Now()
	fast := []store.UsageSample{sample(true, 500, 0.001, time.Minute)}
	slow := []store.UsageSample{sample(true, 120_000, 0.001, time.Minute)}
	assert.Greater(t, Score(fast, now), Score(slow, now))

	cheap := []store.UsageSample{sample(true, 1000, 0.0, time.Minute)}
	pricey := []store.UsageSample{sample(true, 1000, 0.5, time.Minute)}
	assert.Greater(t, Score(cheap, now), Score(pricey, now))
}

func TestScore_OldFailuresDecay(t *testing.T) {
	now := time.Now()
	// Same mix, but one model's failures are a month old.
	recentFailures := []store.UsageSample{
		sample(true, 1000, 0.001, time.Hour),
		sample(false, 1000, 0.001, 2*time.Hour),
		sample(false, 1000, 0.001, 3*time.Hour),
	}
	oldFailures := []store.UsageSample{
		sample(true, 1000, 0.001, time.Hour),
		sample(false, 1000, 0.001, 30*24*time.Hour),
		sample(false, 1000, 0.001, 31*24*time.Hour),
	}
	assert.Greater(t, Score(oldFailures, now), Score(recentFailures, now))
}

func TestScore_Bounded(t *testing.T) {
	now := time.Now()
	best := []store.UsageSample{sample(true, 0, 0, 0)}
	worst := []store.UsageSample{sample(false, 600_000, 10, 0)}

	assert.LessOrEqual(t, Score(best, now), 1.0)
	assert.GreaterOrEqual(t, Score(worst, now), 0.0)
}

func TestPheromoneBook_RecordAndScore(t *testing.T) {
	b := NewPheromoneBook()
	assert.Equal(t, coldStartScore, b.Score("scout", "cron_fire"))

	for i := 0; i < 5; i++ {
		b.Record("scout", "cron_fire", true, time.Second)
		b.Record("sentry", "cron_fire", false, time.Second)
	}
	assert.Greater(t, b.Score("scout", "cron_fire"), b.Score("sentry", "cron_fire"))
	// Task types keep independent windows.
	assert.Equal(t, coldStartScore, b.Score("scout", "interactive"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "scout", snap[0].AgentID)
	assert.Equal(t, "cron_fire", snap[0].TaskType)
	assert.Equal(t, 5, snap[0].Samples)
}

func TestPheromoneBook_WindowBounded(t *testing.T) {
	b := NewPheromoneBook()
	for i := 0; i < pheromoneWindow+50; i++ {
		b.Record("scout", "cron_fire", true, time.Millisecond)
	}
	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, pheromoneWindow, snap[0].Samples)
}

func TestRankModels(t *testing.T) {
	src := &fakeUsageSource{samples: map[string][]store.UsageSample{
		"reliable": {sample(true, 1000, 0.001, time.Minute), sample(true, 1200, 0.001, time.Minute)},
		"flaky":    {sample(false, 1000, 0.001, time.Minute), sample(false, 900, 0.001, time.Minute)},
		// "newcomer" has no history: cold start.
	}}

	ranked, err := RankModels(context.Background(), src, []string{"flaky", "newcomer", "reliable"})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "reliable", ranked[0].Model)
	assert.Equal(t, "newcomer", ranked[1].Model)
	assert.Equal(t, "flaky", ranked[2].Model)
}
