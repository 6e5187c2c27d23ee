package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/moltworks/colony/pkg/models"
)

// PoolConfig bounds the agent pool.
type PoolConfig struct {
	// MaxConcurrent is the global cap on simultaneously executing tasks.
	// Tasks beyond the cap wait in FIFO order.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueDepth is the bound on the wait queue before Submit rejects.
	QueueDepth int `yaml:"queue_depth"`

	// ShutdownGrace is how long draining workers get before cancellation.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens a breaker.
	Threshold int `yaml:"threshold"`

	// Cooldown is the initial open interval. Each reopen doubles it up
	// to MaxCooldown.
	Cooldown    time.Duration `yaml:"cooldown"`
	MaxCooldown time.Duration `yaml:"max_cooldown"`
}

// SafetyConfig tunes the cascade-prevention layer.
type SafetyConfig struct {
	// MaxChildren caps live sub-agents per parent session.
	MaxChildren int `yaml:"max_children"`

	// MaxDepth caps the spawn chain depth (root is depth 0).
	MaxDepth int `yaml:"max_depth"`

	// StaleTimeout is how long a session may go without activity before
	// the sweeper force-ends it.
	StaleTimeout time.Duration `yaml:"stale_timeout"`

	// SweepInterval is how often the sweeper scans for stale sessions.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RuntimeDefaults holds the tunables that ship with built-in values,
// may be overridden in models.yaml under "runtime:", and finally by
// environment variables.
type RuntimeDefaults struct {
	Pool    PoolConfig    `yaml:"pool"`
	Breaker BreakerConfig `yaml:"breaker"`
	Safety  SafetyConfig  `yaml:"safety"`
}

func builtinDefaults() RuntimeDefaults {
	return RuntimeDefaults{
		Pool: PoolConfig{
			MaxConcurrent: 5,
			QueueDepth:    256,
			ShutdownGrace: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold:   5,
			Cooldown:    60 * time.Second,
			MaxCooldown: 10 * time.Minute,
		},
		Safety: SafetyConfig{
			MaxChildren:   3,
			MaxDepth:      2,
			StaleTimeout:  60 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
	}
}

// mergeDefaults fills zero-value fields in dst from the built-in
// defaults, then applies environment overrides on top.
func mergeDefaults(dst *RuntimeDefaults) error {
	defaults := builtinDefaults()
	if err := mergo.Merge(dst, defaults); err != nil {
		return fmt.Errorf("failed to merge runtime defaults: %w", err)
	}
	return applyEnvOverrides(dst)
}

// applyEnvOverrides lets deployments retune the runtime without editing
// YAML. Invalid values are an error, never silently ignored.
func applyEnvOverrides(d *RuntimeDefaults) error {
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("env", "MAX_CONCURRENT", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		d.Pool.MaxConcurrent = n
	}
	if v := os.Getenv("BREAKER_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("env", "BREAKER_THRESHOLD", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		d.Breaker.Threshold = n
	}
	if v := os.Getenv("BREAKER_COOLDOWN_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("env", "BREAKER_COOLDOWN_SECONDS", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		d.Breaker.Cooldown = time.Duration(n) * time.Second
	}
	if v := os.Getenv("STALE_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("env", "STALE_TIMEOUT_MINUTES", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		d.Safety.StaleTimeout = time.Duration(n) * time.Minute
	}
	return nil
}

// defaultTierOrder is used when models.yaml omits tier_order.
func defaultTierOrder() []models.Tier {
	return []models.Tier{models.TierLocal, models.TierFree, models.TierPaid}
}
