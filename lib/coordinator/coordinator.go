// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/message"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/namegen"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/router"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/state"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/supervisor"
	"github.com/ltngt-ai/mind-swarm-sub002/sandbox"
)

// Config holds the collaborators a Coordinator drives. All pointers
// are required unless noted.
type Config struct {
	// Factory provisions sandbox directory trees and builds launch
	// specs.
	Factory *sandbox.Factory

	// Supervisor launches and terminates agent processes.
	Supervisor *supervisor.Supervisor

	// Store is the durable lifecycle registry.
	Store *state.Store

	// Router delivers mailbox messages. Run drives it on
	// RouteInterval.
	Router *router.Router

	// Names generates agent names when a create request leaves the
	// name empty. Defaults to namegen.New().
	Names *namegen.Generator

	// Clock drives the routing loop and message timestamps. Defaults
	// to clock.Real().
	Clock clock.Clock

	// Logger receives coordination events. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// RouteInterval is the pause between routing passes in Run.
	// Defaults to 1s.
	RouteInterval time.Duration

	// ShutdownGrace is the per-agent time budget for graceful
	// shutdown before escalation. Defaults to 30s.
	ShutdownGrace time.Duration
}

// Coordinator is the orchestration entry point. Safe for concurrent
// use; lifecycle operations are serialized.
type Coordinator struct {
	factory       *sandbox.Factory
	supervisor    *supervisor.Supervisor
	store         *state.Store
	router        *router.Router
	names         *namegen.Generator
	clock         clock.Clock
	logger        *slog.Logger
	routeInterval time.Duration
	shutdownGrace time.Duration

	mu sync.Mutex
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("coordinator: Factory is required")
	}
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("coordinator: Supervisor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("coordinator: Store is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("coordinator: Router is required")
	}
	names := cfg.Names
	if names == nil {
		names = namegen.New()
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	routeInterval := cfg.RouteInterval
	if routeInterval <= 0 {
		routeInterval = time.Second
	}
	shutdownGrace := cfg.ShutdownGrace
	if shutdownGrace <= 0 {
		shutdownGrace = 30 * time.Second
	}
	return &Coordinator{
		factory:       cfg.Factory,
		supervisor:    cfg.Supervisor,
		store:         cfg.Store,
		router:        cfg.Router,
		names:         names,
		clock:         c,
		logger:        logger,
		routeInterval: routeInterval,
		shutdownGrace: shutdownGrace,
	}, nil
}

// CreateRequest describes a new agent.
type CreateRequest struct {
	// Name is the requested agent name. Empty lets the coordinator
	// pick one.
	Name string

	// Type names an agent type definition in the types directory.
	Type string

	// Config is an opaque per-agent configuration blob. It is stored
	// in the registry, materialized as config.json in the agent's
	// home, and written again on every restoration. May be nil.
	Config json.RawMessage
}

// CreateAgent provisions, registers, and launches a new agent,
// returning its name. The three steps run in order; a failure in a
// later step undoes the earlier ones, so a failed create leaves no
// registry row and no freshly created directories behind.
func (c *Coordinator) CreateAgent(ctx context.Context, req CreateRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := req.Name
	if name == "" {
		name = c.names.Generate(func(candidate string) bool {
			return c.nameTaken(ctx, candidate)
		})
	}

	// A live process under this name means the caller is racing an
	// existing agent regardless of what the registry says.
	if handle, ok := c.supervisor.Lookup(name); ok && handle.Alive() {
		return "", fmt.Errorf("create agent %q: %w", name, state.ErrExists)
	}

	// Remember whether the directory tree predates this call:
	// provisioning is idempotent, and rollback must not destroy a
	// tree it did not create.
	_, statErr := os.Stat(c.factory.AgentDir(name))
	fresh := os.IsNotExist(statErr)

	spec, err := c.factory.Provision(name, req.Type)
	if err != nil {
		return "", fmt.Errorf("create agent %q: %w", name, err)
	}

	if err := c.writeConfig(name, req.Config); err != nil {
		c.rollback(name, fresh)
		return "", fmt.Errorf("create agent %q: %w", name, err)
	}

	if err := c.store.Create(ctx, name, req.Type, req.Config); err != nil {
		c.rollback(name, fresh)
		return "", fmt.Errorf("create agent %q: %w", name, err)
	}

	if _, err := c.supervisor.Start(ctx, spec, nil); err != nil {
		if deleteErr := c.store.Delete(ctx, name); deleteErr != nil {
			c.logger.Error("rollback: deleting registry row failed",
				"agent", name, "error", deleteErr)
		}
		c.rollback(name, fresh)
		return "", fmt.Errorf("create agent %q: %w", name, err)
	}

	c.logger.Info("agent created", "agent", name, "type", req.Type)
	return name, nil
}

// rollback removes a freshly provisioned directory tree.
func (c *Coordinator) rollback(name string, fresh bool) {
	if !fresh {
		return
	}
	if err := c.factory.Remove(name); err != nil {
		c.logger.Error("rollback: removing agent directories failed",
			"agent", name, "error", err)
	}
}

// writeConfig materializes an agent's configuration blob at the root
// of its home directory, where the sandboxed process reads it. The
// blob in the registry is the source of truth; the file is rewritten
// on create and on every restoration. A nil blob leaves any existing
// file alone.
func (c *Coordinator) writeConfig(name string, blob json.RawMessage) error {
	if len(blob) == 0 {
		return nil
	}
	path := filepath.Join(c.factory.AgentDir(name), sandbox.ConfigFileName)
	if err := message.WriteRaw(path, blob); err != nil {
		return fmt.Errorf("writing agent config: %w", err)
	}
	return nil
}

// nameTaken reports whether a candidate name is already in use by the
// registry, the supervisor, or an on-disk directory tree.
func (c *Coordinator) nameTaken(ctx context.Context, name string) bool {
	if _, ok := c.supervisor.Lookup(name); ok {
		return true
	}
	if _, err := c.store.Get(ctx, name); err == nil {
		return true
	}
	_, err := os.Stat(c.factory.AgentDir(name))
	return err == nil
}

// ShutdownAgent gracefully stops one agent and marks it SLEEPING in
// the registry. The agent receives a shutdown notice in its inbox
// before escalation begins, so a cooperative agent can flush state and
// exit before any signal is sent.
func (c *Coordinator) ShutdownAgent(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownLocked(ctx, name)
}

func (c *Coordinator) shutdownLocked(ctx context.Context, name string) error {
	if _, err := c.store.Get(ctx, name); err != nil {
		return fmt.Errorf("shutdown agent %q: %w", name, err)
	}

	if handle, ok := c.supervisor.Lookup(name); ok && handle.Alive() {
		c.sendNotice(name, "shutting down")
		if err := c.supervisor.Shutdown(ctx, handle, c.shutdownGrace); err != nil {
			return fmt.Errorf("shutdown agent %q: %w", name, err)
		}
	}

	if err := c.store.UpdateLifecycle(ctx, name, state.Sleeping); err != nil {
		return fmt.Errorf("shutdown agent %q: %w", name, err)
	}
	c.logger.Info("agent sleeping", "agent", name)
	return nil
}

// ShutdownAll gracefully stops every agent with a live process and
// marks each SLEEPING. Per-agent failures are collected rather than
// aborting the sweep: daemon shutdown must visit every agent.
func (c *Coordinator) ShutdownAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.List(ctx, state.Active)
	if err != nil {
		return fmt.Errorf("shutdown all: %w", err)
	}

	var errs []error
	for _, record := range records {
		if err := c.shutdownLocked(ctx, record.Name); err != nil {
			c.logger.Error("shutdown failed", "agent", record.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreSleeping re-provisions and relaunches every SLEEPING agent,
// marking each ACTIVE. Called once at daemon startup. A failure to
// restore one agent is logged and the rest are still attempted; the
// returned count is the number successfully restored.
func (c *Coordinator) RestoreSleeping(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.List(ctx, state.Sleeping)
	if err != nil {
		return 0, fmt.Errorf("restore sleeping: %w", err)
	}

	restored := 0
	for _, record := range records {
		if err := c.restoreOne(ctx, record); err != nil {
			c.logger.Error("restore failed", "agent", record.Name, "error", err)
			continue
		}
		restored++
	}
	c.logger.Info("sleeping agents restored", "restored", restored, "total", len(records))
	return restored, nil
}

func (c *Coordinator) restoreOne(ctx context.Context, record state.Record) error {
	spec, err := c.factory.Provision(record.Name, record.Type)
	if err != nil {
		return err
	}
	if err := c.writeConfig(record.Name, record.Config); err != nil {
		return err
	}
	if _, err := c.supervisor.Start(ctx, spec, nil); err != nil {
		return err
	}
	if err := c.store.UpdateLifecycle(ctx, record.Name, state.Active); err != nil {
		return err
	}
	return nil
}

// TerminateAgent destroys an agent: its process is killed without the
// sentinel grace step, its registry row deleted, and its directory
// tree removed. This is not recoverable.
func (c *Coordinator) TerminateAgent(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Get(ctx, name); err != nil {
		return fmt.Errorf("terminate agent %q: %w", name, err)
	}

	if handle, ok := c.supervisor.Lookup(name); ok && handle.Alive() {
		if err := c.supervisor.Terminate(ctx, handle, c.shutdownGrace); err != nil {
			return fmt.Errorf("terminate agent %q: %w", name, err)
		}
	}

	if err := c.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("terminate agent %q: %w", name, err)
	}
	if err := c.factory.Remove(name); err != nil {
		return fmt.Errorf("terminate agent %q: %w", name, err)
	}
	c.logger.Info("agent terminated", "agent", name)
	return nil
}

// sendNotice writes a shutdown message directly into the agent's
// inbox, bypassing the router so the notice cannot be delayed behind a
// routing backlog. Failure to write the notice is logged, not fatal:
// the escalation sentinel still stops the agent.
func (c *Coordinator) sendNotice(name, reason string) {
	notice := &message.Message{
		ID:        message.NewID(),
		From:      router.RouterSender,
		To:        name,
		Type:      message.KindShutdown,
		Timestamp: c.clock.Now(),
		Content:   reason,
	}
	inbox := filepath.Join(c.factory.AgentDir(name), "inbox")
	if _, err := message.Write(inbox, notice); err != nil {
		c.logger.Warn("shutdown notice not delivered", "agent", name, "error", err)
	}
}

// Run drives the routing and monitoring loops until ctx is cancelled.
// A routing pass that fails is logged and the loop continues; one
// agent's malformed mailbox must never stop delivery for the rest.
func (c *Coordinator) Run(ctx context.Context) {
	go c.supervisor.Run(ctx)

	ticker := c.clock.NewTicker(c.routeInterval)
	defer ticker.Stop()

	c.logger.Info("message router started", "interval", c.routeInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("message router stopped")
			return
		case <-ticker.C:
			stats, err := c.router.RouteOnce(ctx)
			if err != nil {
				c.logger.Error("routing pass failed", "error", err)
				continue
			}
			if stats.Scanned > 0 {
				c.logger.Debug("routing pass",
					"scanned", stats.Scanned,
					"delivered", stats.Delivered,
					"failures", stats.Failures,
				)
			}
		}
	}
}
