package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetentionStore struct {
	mu sync.Mutex

	sessionCutoffs  []time.Time
	usageCutoffs    []time.Time
	activityCutoffs []time.Time

	sessionErr error
	pruned     int64
}

func (f *fakeRetentionStore) PruneSessions(_ context.Context, endedBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCutoffs = append(f.sessionCutoffs, endedBefore)
	return f.pruned, f.sessionErr
}

func (f *fakeRetentionStore) PruneUsage(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCutoffs = append(f.usageCutoffs, before)
	return f.pruned, nil
}

func (f *fakeRetentionStore) PruneActivity(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activityCutoffs = append(f.activityCutoffs, before)
	return f.pruned, nil
}

func (f *fakeRetentionStore) passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessionCutoffs)
}

func TestRunOnce_CutoffsFollowPolicy(t *testing.T) {
	st := &fakeRetentionStore{pruned: 3}
	cfg := RetentionConfig{
		SessionRetention:  90 * 24 * time.Hour,
		UsageRetention:    30 * 24 * time.Hour,
		ActivityRetention: 14 * 24 * time.Hour,
		Interval:          time.Hour,
	}
	svc := NewService(cfg, st)

	before := time.Now().UTC()
	svc.RunOnce(context.Background())
	after := time.Now().UTC()

	require.Len(t, st.sessionCutoffs, 1)
	require.Len(t, st.usageCutoffs, 1)
	require.Len(t, st.activityCutoffs, 1)

	assert.WithinRange(t, st.sessionCutoffs[0],
		before.Add(-cfg.SessionRetention), after.Add(-cfg.SessionRetention))
	assert.WithinRange(t, st.usageCutoffs[0],
		before.Add(-cfg.UsageRetention), after.Add(-cfg.UsageRetention))
	assert.WithinRange(t, st.activityCutoffs[0],
		before.Add(-cfg.ActivityRetention), after.Add(-cfg.ActivityRetention))
}

func TestRunOnce_SessionErrorDoesNotStopOtherPrunes(t *testing.T) {
	st := &fakeRetentionStore{sessionErr: errors.New("db down")}
	svc := NewService(DefaultRetention(), st)

	svc.RunOnce(context.Background())

	assert.Len(t, st.usageCutoffs, 1)
	assert.Len(t, st.activityCutoffs, 1)
}

func TestStartStop_RunsImmediatelyAndTicks(t *testing.T) {
	st := &fakeRetentionStore{}
	cfg := DefaultRetention()
	cfg.Interval = 20 * time.Millisecond
	svc := NewService(cfg, st)

	svc.Start(context.Background())
	defer svc.Stop()

	assert.Eventually(t, func() bool { return st.passes() >= 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestStart_SecondCallIsNoOp(t *testing.T) {
	st := &fakeRetentionStore{}
	cfg := DefaultRetention()
	cfg.Interval = time.Hour
	svc := NewService(cfg, st)

	svc.Start(context.Background())
	first := svc.done
	svc.Start(context.Background())
	assert.True(t, first == svc.done, "second Start must not relaunch the loop")

	svc.Stop()
}

func TestDefaultRetention_EnvOverride(t *testing.T) {
	t.Setenv("SESSION_RETENTION_DAYS", "7")
	t.Setenv("USAGE_RETENTION_DAYS", "bogus")

	cfg := DefaultRetention()
	assert.Equal(t, 7*24*time.Hour, cfg.SessionRetention)
	assert.Equal(t, 30*24*time.Hour, cfg.UsageRetention)
}
