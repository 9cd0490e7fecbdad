// Command arenad serves the tribute arena over HTTP and websockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/tribute-arena/internal/api"
	"github.com/talgya/tribute-arena/internal/config"
	"github.com/talgya/tribute-arena/internal/entropy"
	"github.com/talgya/tribute-arena/internal/llm"
	"github.com/talgya/tribute-arena/internal/persistence"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		config.Exitf("arenad: %v", err)
	}
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("arenad: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Tribute Arena server")

	// ── Catalogs ──────────────────────────────────────────────────────
	events, items, err := cfg.Catalogs()
	if err != nil {
		config.Exitf("arenad: %v", err)
	}
	for phase, n := range events.PhaseCounts() {
		slog.Info("events", "phase", phase, "count", n)
	}
	slog.Info("items loaded", "count", items.Len())

	arenaCfg, err := cfg.Engine()
	if err != nil {
		config.Exitf("arenad: %v", err)
	}
	weights, err := cfg.Weights()
	if err != nil {
		config.Exitf("arenad: %v", err)
	}

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		config.Exitf("arenad: %v", err)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if stats, err := db.Stats(); err == nil {
		slog.Info("database opened", "path", cfg.DBPath, "arenas", humanize.Comma(int64(stats.Arenas)))
	}

	// ── LLM Client ───────────────────────────────────────────────────
	llmClient := llm.NewClient(cfg.AnthropicKey)
	if llmClient != nil {
		slog.Info("LLM client enabled (Haiku)")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, recaps and eulogies disabled")
	}

	// ── Entropy ──────────────────────────────────────────────────────
	seeds := entropy.NewClient(cfg.RandomOrgKey)
	if seeds.Enabled() {
		slog.Info("arena seeds drawn from random.org")
	} else {
		slog.Info("RANDOM_ORG_KEY not set, arena seeds drawn from crypto/rand")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ARENA_ADMIN_KEY not set, admin endpoints will be disabled")
	}

	apiServer := &api.Server{
		Events:      events,
		Items:       items,
		Weights:     weights,
		Arena:       arenaCfg,
		DB:          db,
		LLM:         llmClient,
		Seeds:       seeds,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		Interval:    cfg.Interval,
		CORSOrigins: cfg.CORSOrigins,
	}
	srv := apiServer.Start()

	fmt.Printf("\nThe arena is open: %d events, %d items.\n", events.Len(), items.Len())
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)

	// ── Shutdown ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	fmt.Println("Arena closed.")
}
