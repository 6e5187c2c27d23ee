package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/moltworks/colony/pkg/api"
	"github.com/moltworks/colony/pkg/cleanup"
	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/cron"
	"github.com/moltworks/colony/pkg/database"
	"github.com/moltworks/colony/pkg/llm"
	"github.com/moltworks/colony/pkg/models"
	"github.com/moltworks/colony/pkg/queue"
	"github.com/moltworks/colony/pkg/safety"
	"github.com/moltworks/colony/pkg/sessions"
	"github.com/moltworks/colony/pkg/skill"
	"github.com/moltworks/colony/pkg/store"
	"github.com/moltworks/colony/pkg/version"
)

func serveCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the full runtime: scheduler, agent pool, and HTTP API",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	return cmd
}

// cronControl joins the scheduler's wake channel and the runner's fire
// entry point into the surface the API needs.
type cronControl struct {
	scheduler *cron.Scheduler
	runner    *cron.Runner
}

func (c *cronControl) Notify() { c.scheduler.Notify() }
func (c *cronControl) Fire(ctx context.Context, entry models.CronEntry) {
	c.runner.Fire(ctx, entry)
}

// runtimeHealth implements the health surface over the live components.
type runtimeHealth struct {
	db      *database.Client
	gateway *llm.Gateway
	pool    *queue.Pool
}

func (h *runtimeHealth) BreakerStates() map[string]string { return h.gateway.BreakerStates() }
func (h *runtimeHealth) PoolStats() queue.Stats           { return h.pool.Stats() }
func (h *runtimeHealth) PingDB(ctx context.Context) error { return h.db.Pool().Ping(ctx) }

func runServe(ctx context.Context, configDir string) error {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting colony", "version", version.Full(),
		"http_port", httpPort, "config_dir", configDir)

	// Configuration. Fail-fast: a broken catalog never serves traffic.
	cfg, err := config.NewProvider(configDir)
	if err != nil {
		return exitWith(exitConfigInvalid, fmt.Errorf("configuration invalid: %w", err))
	}

	// Database.
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return exitWith(exitConfigInvalid, err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return exitWith(exitStoreDown, fmt.Errorf("database unreachable: %w", err))
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL")

	st := store.New(dbClient.Pool())

	// Gateway, sessions, pool.
	gateway := llm.NewGateway(cfg, st)
	sessionSvc := sessions.NewService(st, gateway, cfg)
	pool := queue.NewPool(cfg, st)
	pool.Start(ctx)

	// Safety: startup orphan recovery before any new work, then the
	// periodic stale sweep.
	guard := safety.NewGuard(cfg, st, gateway)

	// Skills: built-in capabilities agents may list in the roster.
	skills := skill.NewRegistry()
	if err := skills.Register(skill.NewSpawnSkill(guard, sessionSvc)); err != nil {
		return exitWith(exitConfigInvalid, err)
	}
	sessionSvc.UseSkills(skills)

	sweeper := safety.NewSweeper(cfg, st, pool)
	if err := sweeper.CleanupStartupOrphans(ctx); err != nil {
		slog.Error("Startup orphan cleanup failed", "error", err)
	}
	sweeper.Start(ctx)

	// Retention.
	retention := cleanup.NewService(cleanup.DefaultRetention(), st)
	retention.Start(ctx)

	// Cron: seed from cron_jobs.yaml, then schedule.
	runner := cron.NewRunner(st, sessionSvc, pool, guard)
	scheduler := cron.NewScheduler(st, runner, pool)
	if err := scheduler.SeedFromCatalog(ctx, cronSeeds(cfg.Current())); err != nil {
		return exitWith(exitStoreDown, fmt.Errorf("failed to seed cron entries: %w", err))
	}
	scheduler.Start(ctx)

	// HTTP API.
	srv := api.NewServer(api.Options{
		Config:     cfg,
		Sessions:   sessionSvc,
		Store:      st,
		Cron:       &cronControl{scheduler: scheduler, runner: runner},
		Cascade:    sweeper,
		Health:     &runtimeHealth{db: dbClient, gateway: gateway, pool: pool},
		Pool:       pool,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(":" + httpPort); err != nil {
			errCh <- err
		}
	}()

	stats := cfg.Current().Stats()
	slog.Info("Colony started",
		"agents", stats.Agents, "models", stats.Models, "crons", stats.Crons)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed, shutting down", "error", err)
	}

	// Shutdown order: stop producing work, drain what is queued, then
	// close the HTTP surface.
	scheduler.Stop()
	sweeper.Stop()
	retention.Stop()
	pool.Stop()

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// cronSeeds converts cron_jobs.yaml entries into store seeds.
func cronSeeds(catalog *config.Catalog) []models.CronEntry {
	out := make([]models.CronEntry, 0, len(catalog.Crons))
	for _, c := range catalog.Crons {
		mode := c.SessionMode
		if mode == "" {
			mode = models.SessionModeEphemeral
		}
		out = append(out, models.CronEntry{
			ID:          c.ID,
			Name:        c.Name,
			Schedule:    c.Schedule,
			Enabled:     c.Enabled,
			Payload:     c.Payload,
			AgentID:     c.Agent,
			SessionMode: mode,
			MaxDuration: c.MaxDuration,
			RetryCount:  c.RetryCount,
		})
	}
	return out
}
