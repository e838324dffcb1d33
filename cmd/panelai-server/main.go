// Command panelai-server serves short-lived interview credentials, feedback
// reports and resume extraction over HTTP, together with health probes and
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/panelai/internal/config"
	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "panelai.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload rate limits, log level and verification settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "panelai-server: config file %q not found, copy configs/panelai.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "panelai-server: %v\n", err)
		}
		return 1
	}
	config.ApplyEnv(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("panelai-server starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"verification", cfg.Verify.TurnstileSecret != "",
		"archive", cfg.Archive.PostgresDSN != "",
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "panelai-server"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []server.Option{server.WithLogLevel(&level)}
	if *watch {
		opts = append(opts, server.WithConfigPath(*configPath))
	}
	srv, err := server.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}
	defer srv.Close()

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
