// Command evosim runs the evolutionary world simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/evo-world/internal/api"
	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/engine"
	"github.com/talgya/evo-world/internal/llm"
	"github.com/talgya/evo-world/internal/persistence"
	"github.com/talgya/evo-world/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("EVOSIM_CONFIG"), "Path to config.yaml (empty = use defaults)")
	dbPath := flag.String("db", envOr("EVOSIM_DB", "data/evo.db"), "SQLite database path")
	seed := flag.Int64("seed", 0, "World seed (0 = config value)")
	maxTurns := flag.Int("turns", -1, "Stop after N turns (-1 = config value, 0 = unlimited)")
	outputDir := flag.String("output-dir", "", "Directory for per-turn CSV output (overrides config)")
	headless := flag.Bool("headless", false, "Run without the HTTP API")
	fresh := flag.Bool("fresh", false, "Ignore saved state and generate a new world")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *maxTurns >= 0 {
		cfg.Runner.MaxTurns = *maxTurns
	}
	if *outputDir != "" {
		cfg.Telemetry.Dir = *outputDir
	}
	setupLogger(cfg.Log)

	if err := run(cfg, *dbPath, *headless, *fresh); err != nil {
		slog.Error("evosim failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupLogger uses text output on a terminal and JSON otherwise.
func setupLogger(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func run(cfg config.Config, dbPath string, headless, fresh bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// ── Load or generate world state ─────────────────────────────────
	var (
		st   *engine.State
		last *engine.TurnReport
	)
	if !fresh {
		st, last, err = db.LoadState(ctx)
		if err != nil && !errors.Is(err, persistence.ErrNoState) {
			return fmt.Errorf("load state: %w", err)
		}
	}
	newWorld := st == nil
	if newWorld {
		slog.Info("no saved state found, generating new world...")
		if st, err = engine.Bootstrap(cfg); err != nil {
			return err
		}
	}

	// ── Adviser ──────────────────────────────────────────────────────
	client := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), cfg.Adviser.Model, cfg.Adviser.MaxPerMinute)
	if client.Enabled() {
		slog.Info("adviser enabled", "model", cfg.Adviser.Model, "concurrency", cfg.Adviser.Concurrency)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, rule-based evolution only")
	}

	orch, err := engine.NewOrchestrator(cfg, st,
		engine.WithClient(client),
		engine.WithWriter(db),
		engine.WithLastReport(last),
	)
	if err != nil {
		return err
	}
	if newWorld {
		if client.Enabled() {
			if err := orch.Christen(ctx); err != nil {
				slog.Warn("naming founding species failed", "error", err)
			}
		}
		if err := db.SaveState(ctx, orch.State()); err != nil {
			return fmt.Errorf("initial save: %w", err)
		}
	}

	var population int64
	for _, sp := range orch.State().Species.Living() {
		population += sp.Population
	}
	slog.Info("world ready",
		"seed", st.Seed,
		"turn", orch.Turn(),
		"tiles", st.World.TileCount(),
		"species", st.Species.LivingCount(),
		"population", humanize.Comma(population),
		"run_id", orch.RunID(),
	)

	// ── Telemetry ────────────────────────────────────────────────────
	out, err := telemetry.NewOutputManager(cfg.Telemetry.Dir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		slog.Warn("writing config snapshot failed", "error", err)
	}

	// ── Runner ───────────────────────────────────────────────────────
	runner := engine.NewRunner(orch, cfg.Runner)
	runner.OnTurn = func(r *engine.TurnReport) {
		if err := out.WriteTurn(r); err != nil {
			slog.Warn("telemetry write failed", "turn", r.Turn, "error", err)
		}
		if r.Stats.MassExtinction {
			slog.Warn(engine.Describe(r))
		}
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	if !headless {
		adminKey := os.Getenv("EVOSIM_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("EVOSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		srv := &api.Server{
			Orch:     orch,
			Runner:   runner,
			DB:       db,
			Port:     cfg.API.Port,
			AdminKey: adminKey,
			Limiter:  api.NewRateLimiter(60, time.Minute),
		}
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	if orch.Turn() > 0 {
		fmt.Printf("Resuming from turn %d\n", orch.Turn())
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	if err := runner.Run(ctx); err != nil {
		return err
	}

	if r := orch.LastReport(); r != nil {
		fmt.Println(engine.Describe(r))
	}
	fmt.Println("Simulation stopped. World state saved.")
	return nil
}
