package llm

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed - normal operation, requests allowed
	StateClosed BreakerState = iota
	// StateOpen - failing, requests blocked until cooldown elapses
	StateOpen
	// StateHalfOpen - one probe in flight to test recovery
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a circuit breaker.
type BreakerSettings struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int

	// Cooldown is the initial open interval. Each reopen doubles it up
	// to MaxCooldown; a closing success resets it.
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

// Breaker is a per-provider circuit breaker. Consecutive failures open
// it; after the cooldown it admits exactly one probe. A successful probe
// closes it, a failed probe reopens it with a doubled cooldown.
type Breaker struct {
	name     string
	settings BreakerSettings

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	openedAt        time.Time
	currentCooldown time.Duration
	probeInFlight   bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, settings BreakerSettings) *Breaker {
	return &Breaker{
		name:            name,
		settings:        settings,
		state:           StateClosed,
		currentCooldown: settings.Cooldown,
	}
}

// Allow reports whether a request may proceed. In half-open state only
// the first caller gets through; the rest are rejected until the probe
// reports back.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) >= b.currentCooldown {
			b.setState(StateHalfOpen)
			b.probeInFlight = true
			return nil
		}
		return ErrBreakerOpen

	case StateHalfOpen:
		if b.probeInFlight {
			return ErrBreakerOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// Mark records a request outcome. Pass nil for success.
func (b *Breaker) Mark(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failureCount = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
			b.currentCooldown = b.settings.Cooldown
		}
		b.probeInFlight = false
		return
	}

	switch b.state {
	case StateHalfOpen:
		// Failed probe: reopen with a longer cooldown.
		b.currentCooldown = min(b.currentCooldown*2, b.settings.MaxCooldown)
		b.open()
		b.probeInFlight = false

	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.Threshold {
			b.open()
		}
	}
}

// Release frees the half-open probe slot without recording a verdict,
// for calls whose outcome says nothing about provider health.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.currentCooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = time.Now()
	b.failureCount = 0
	b.setState(StateOpen)
}

func (b *Breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	slog.Info("Circuit breaker state change",
		"provider", b.name,
		"from", b.state.String(),
		"to", to.String(),
		"cooldown", b.currentCooldown,
	)
	b.state = to
}

// BreakerRegistry holds one breaker per provider.
type BreakerRegistry struct {
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider, creating it on first use.
func (r *BreakerRegistry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[provider]
	if !ok {
		b = NewBreaker(provider, r.settings)
		r.breakers[provider] = b
	}
	return b
}

// States returns a snapshot of every known breaker's state, for the
// health endpoint.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State().String()
	}
	return out
}
