// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// swarm-daemon is the orchestration core. It provisions sandboxed
// agents, supervises their processes, and routes mailbox messages
// between them.
//
// On startup:
//  1. Loads configuration from --config or SWARM_CONFIG.
//  2. Recovers supervision of processes that survived a daemon restart.
//  3. Restores SLEEPING agents from the registry.
//  4. Runs the routing and monitoring loops until SIGINT/SIGTERM.
//  5. On shutdown, gracefully stops every agent and marks it SLEEPING.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/config"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/coordinator"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/process"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/router"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/state"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/supervisor"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/version"
	"github.com/ltngt-ai/mind-swarm-sub002/sandbox"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to swarm.yaml (overrides SWARM_CONFIG)")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("swarm-daemon %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug || os.Getenv("SWARM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	routeInterval, err := cfg.Router.IntervalDuration()
	if err != nil {
		return err
	}
	monitorInterval, err := cfg.Supervisor.MonitorIntervalDuration()
	if err != nil {
		return err
	}
	shutdownGrace, err := cfg.Supervisor.ShutdownGraceDuration()
	if err != nil {
		return err
	}

	factory, err := sandbox.New(sandbox.Config{
		Root:      cfg.Paths.Root,
		ToolsDir:  cfg.Paths.Tools,
		SharedDir: cfg.Paths.Shared,
		TypesDir:  cfg.Paths.AgentTypes,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("sandbox factory: %w", err)
	}

	store, err := state.Open(state.Config{
		Path:   cfg.DatabasePath(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("lifecycle store: %w", err)
	}
	defer store.Close()

	sup, err := supervisor.New(supervisor.Config{
		LogDir:          cfg.Paths.Logs,
		StatePath:       cfg.SupervisorStatePath(),
		Logger:          logger,
		MonitorInterval: monitorInterval,
		LogMaxSize:      cfg.Supervisor.LogMaxSize,
	})
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	rtr, err := router.New(router.Config{
		Root:   cfg.Paths.Root,
		Agents: factory,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	coord, err := coordinator.New(coordinator.Config{
		Factory:       factory,
		Supervisor:    sup,
		Store:         store,
		Router:        rtr,
		Logger:        logger,
		RouteInterval: routeInterval,
		ShutdownGrace: shutdownGrace,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("swarm daemon starting",
		"version", version.Info(),
		"root", cfg.Paths.Root,
		"environment", cfg.Environment,
	)

	recovered, err := sup.Recover()
	if err != nil {
		logger.Warn("supervisor state recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered running agents", "count", recovered)
	}

	if _, err := coord.RestoreSleeping(ctx); err != nil {
		logger.Error("restoring sleeping agents failed", "error", err)
	}

	coord.Run(ctx)

	// The run context is cancelled; use a fresh one so shutdown can
	// still escalate with its full time budget.
	shutdownCtx := context.Background()
	logger.Info("daemon shutting down")
	if err := coord.ShutdownAll(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("daemon stopped")
	return nil
}

// loadConfig prefers the --config flag over SWARM_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
