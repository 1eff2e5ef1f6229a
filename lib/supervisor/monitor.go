// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
)

// Run is the process-liveness monitor loop. It polls every tracked
// handle on the configured interval; an exit the supervisor did not
// request is logged with the process's captured stderr, the handle is
// marked CRASHED and dropped, and the OnCrash callback (if any) fires.
//
// The loop runs until ctx is cancelled and never returns early: any
// failure inside one sweep is logged and the loop continues.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	s.logger.Info("process monitor started", "interval", s.monitorInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("process monitor stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep checks every tracked handle once.
func (s *Supervisor) sweep() {
	for _, h := range s.Handles() {
		if h.Alive() {
			continue
		}

		// Dead, and the supervisor did not drive it to a terminal
		// state: this is a crash. Handles mid-escalation are in
		// SHUTTING_DOWN or KILLING and are the escalation's to
		// finish.
		state := h.State()
		if state != Starting && state != Running {
			continue
		}

		stderrTail := h.StderrTail()
		s.logger.Error("agent process exited unexpectedly",
			"agent", h.Name,
			"pid", h.PID,
			"exit_code", h.ExitCode(),
			"stderr_tail", stderrTail,
		)

		s.finish(h, Crashed)
		if s.onCrash != nil {
			s.onCrash(h)
		}
	}
}
