package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() BreakerSettings {
	return BreakerSettings{
		Threshold:   3,
		Cooldown:    50 * time.Millisecond,
		MaxCooldown: 200 * time.Millisecond,
	}
}

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", testSettings())

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Mark(errBoom)
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Mark(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", testSettings())

	b.Mark(errBoom)
	b.Mark(errBoom)
	b.Mark(nil)
	b.Mark(errBoom)
	b.Mark(errBoom)

	// Never three in a row, still closed.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker("test", testSettings())
	for i := 0; i < 3; i++ {
		b.Mark(errBoom)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	// First caller after cooldown gets the probe slot, the second does not.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// Successful probe closes the breaker.
	b.Mark(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_FailedProbeDoublesCooldown(t *testing.T) {
	b := NewBreaker("test", testSettings())
	for i := 0; i < 3; i++ {
		b.Mark(errBoom)
	}

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Mark(errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Original cooldown has elapsed but the doubled one has not.
	time.Sleep(60 * time.Millisecond)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Mark(nil)

	// Closing resets the cooldown for the next trip.
	for i := 0; i < 3; i++ {
		b.Mark(errBoom)
	}
	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, b.Allow())
}

func TestBreaker_CooldownCapped(t *testing.T) {
	settings := testSettings()
	b := NewBreaker("test", settings)

	for i := 0; i < 3; i++ {
		b.Mark(errBoom)
	}

	// Fail enough probes that doubling would exceed the cap.
	for i := 0; i < 5; i++ {
		b.mu.Lock()
		b.openedAt = time.Now().Add(-settings.MaxCooldown)
		b.mu.Unlock()
		require.NoError(t, b.Allow())
		b.Mark(errBoom)
	}

	b.mu.Lock()
	cooldown := b.currentCooldown
	b.mu.Unlock()
	assert.Equal(t, settings.MaxCooldown, cooldown)
}

func TestBreakerRegistry(t *testing.T) {
	reg := NewBreakerRegistry(testSettings())

	a := reg.Get("litellm")
	assert.Same(t, a, reg.Get("litellm"))
	assert.NotSame(t, a, reg.Get("openrouter"))

	for i := 0; i < 3; i++ {
		a.Mark(errBoom)
	}

	states := reg.States()
	assert.Equal(t, "open", states["litellm"])
	assert.Equal(t, "closed", states["openrouter"])
}
