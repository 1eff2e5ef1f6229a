// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/codec"
)

// trackedState is the CBOR document persisted to the state file on
// every tracked-set change. It captures the minimum needed to regain
// control of surviving agent processes after an orchestrator restart.
type trackedState struct {
	Handles map[string]*trackedHandle `cbor:"handles"`
}

// trackedHandle is one persisted process record.
type trackedHandle struct {
	PID          int       `cbor:"pid"`
	PGID         int       `cbor:"pgid"`
	StartedAt    time.Time `cbor:"started_at"`
	Signature    string    `cbor:"signature"`
	SentinelPath string    `cbor:"sentinel_path"`
}

// persist writes the current tracked set to the state file (atomic
// temp + rename). Persistence failures are logged, not returned:
// losing the state file degrades restart recovery, not supervision.
func (s *Supervisor) persist() {
	if s.statePath == "" {
		return
	}

	state := trackedState{Handles: make(map[string]*trackedHandle)}
	s.mu.Lock()
	for name, h := range s.handles {
		state.Handles[name] = &trackedHandle{
			PID:          h.PID,
			PGID:         h.PGID,
			StartedAt:    h.StartedAt,
			Signature:    h.signature,
			SentinelPath: h.sentinelPath,
		}
	}
	s.mu.Unlock()

	data, err := codec.Marshal(state)
	if err != nil {
		s.logger.Error("marshaling supervisor state", "error", err)
		return
	}

	temporaryPath := s.statePath + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0600); err != nil {
		s.logger.Error("writing supervisor state file", "error", err)
		return
	}
	if err := os.Rename(temporaryPath, s.statePath); err != nil {
		os.Remove(temporaryPath)
		s.logger.Error("renaming supervisor state file", "error", err)
	}
}

// Recover reads the state file and re-tracks agent processes that
// survived an orchestrator restart. Dead entries are dropped. Returns
// the number of processes recovered. Call once, before Run.
//
// Recovered handles have no exec.Cmd to wait on, so a poll goroutine
// watches each one and closes its done channel when the pid is gone.
func (s *Supervisor) Recover() (int, error) {
	if s.statePath == "" {
		return 0, nil
	}

	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading supervisor state file: %w", err)
	}

	var state trackedState
	if err := codec.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("parsing supervisor state file %s: %w", s.statePath, err)
	}

	recovered := 0
	for name, entry := range state.Handles {
		if !s.control.Alive(entry.PID) {
			s.logger.Info("recorded agent process is gone",
				"agent", name, "pid", entry.PID)
			continue
		}

		h := &Handle{
			Name:         name,
			PID:          entry.PID,
			PGID:         entry.PGID,
			StartedAt:    entry.StartedAt,
			signature:    entry.Signature,
			sentinelPath: entry.SentinelPath,
			done:         make(chan struct{}),
			state:        Running,
		}
		go s.pollRecovered(h)
		s.track(h)
		recovered++

		s.logger.Info("agent process recovered",
			"agent", name, "pid", entry.PID)
	}

	// Rewrite the file so dead entries do not resurface on the next
	// restart.
	s.persist()
	return recovered, nil
}

// pollRecovered substitutes for reap on handles without a child
// process to wait on: it polls pid liveness and closes done when the
// process disappears. The exit code of a recovered process is
// unobservable (it is not our child), so it reports -1.
func (s *Supervisor) pollRecovered(h *Handle) {
	for {
		s.clock.Sleep(s.monitorInterval)
		if !s.control.Alive(h.PID) {
			h.mu.Lock()
			h.exitCode = -1
			h.mu.Unlock()
			close(h.done)
			return
		}
	}
}

// StatePath returns the configured state file path, for diagnostics.
func (s *Supervisor) StatePath() string {
	if s.statePath == "" {
		return ""
	}
	return filepath.Clean(s.statePath)
}
