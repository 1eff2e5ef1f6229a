// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
)

func TestRecoverRetracksSurvivors(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "supervisor.cbor")
	fc := clock.Fake(testEpoch)

	first, err := New(Config{
		LogDir:    t.TempDir(),
		StatePath: statePath,
		Clock:     fc,
		Control:   &fakeControl{},
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Two tracked processes: one will survive the restart, one not.
	survivorPID := os.Getpid()
	survivor := &Handle{
		Name:         "alice",
		PID:          survivorPID,
		PGID:         survivorPID,
		StartedAt:    testEpoch,
		signature:    "/srv/swarm/agents/alice",
		sentinelPath: "/srv/swarm/agents/alice/.control/shutdown",
		done:         make(chan struct{}),
		state:        Running,
	}
	casualty := &Handle{
		Name:      "bob",
		PID:       1234567,
		PGID:      1234567,
		StartedAt: testEpoch,
		done:      make(chan struct{}),
		state:     Running,
	}
	first.track(survivor)
	first.track(casualty)

	// A new supervisor (a daemon restart) reads the same state file.
	// Its control regards only the survivor's pid as alive.
	second, err := New(Config{
		LogDir:    t.TempDir(),
		StatePath: statePath,
		Clock:     clock.Fake(testEpoch),
		Control:   &fakeControl{alivePIDs: map[int]bool{survivorPID: true}},
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recovered, err := second.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	h, ok := second.Lookup("alice")
	if !ok {
		t.Fatal("survivor not re-tracked")
	}
	if h.PID != survivorPID || h.State() != Running {
		t.Errorf("recovered handle = %+v", h)
	}
	if h.signature != "/srv/swarm/agents/alice" {
		t.Errorf("signature not restored: %q", h.signature)
	}
	if _, ok := second.Lookup("bob"); ok {
		t.Error("dead process re-tracked")
	}
}

func TestRecoverMissingStateFile(t *testing.T) {
	s, err := New(Config{
		LogDir:    t.TempDir(),
		StatePath: filepath.Join(t.TempDir(), "never-written.cbor"),
		Clock:     clock.Fake(testEpoch),
		Control:   &fakeControl{},
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recovered, err := s.Recover()
	if err != nil || recovered != 0 {
		t.Errorf("Recover = (%d, %v), want (0, nil)", recovered, err)
	}
}

func TestRecoverWithoutStatePathIsNoop(t *testing.T) {
	s := newTestSupervisor(t, clock.Fake(testEpoch), &fakeControl{})
	recovered, err := s.Recover()
	if err != nil || recovered != 0 {
		t.Errorf("Recover = (%d, %v), want (0, nil)", recovered, err)
	}
}
