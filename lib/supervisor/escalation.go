// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Action is what one escalation step does.
type Action string

const (
	// ActionSentinel writes the cooperative-shutdown sentinel file
	// into the agent's control directory and waits for voluntary
	// exit. The step's wait is overridden by the timeout passed to
	// Shutdown.
	ActionSentinel Action = "sentinel"

	// ActionSignal delivers the step's signal to the sandbox wrapper
	// process and waits a grace window.
	ActionSignal Action = "signal"

	// ActionKillGroup delivers the step's signal to the whole process
	// group, then pattern-kills any descendant helpers that escaped
	// the group.
	ActionKillGroup Action = "kill-group"
)

// Step is one entry in the escalation policy. A step that times out is
// not an error; the next step simply runs.
type Step struct {
	// Action selects the mechanism.
	Action Action

	// Signal is delivered for ActionSignal and ActionKillGroup.
	Signal unix.Signal

	// Wait bounds how long to wait for exit after the action. For
	// ActionSentinel this is a default, overridden by the caller's
	// timeout.
	Wait time.Duration
}

// DefaultPolicy is the standard escalation: ask nicely via sentinel,
// then SIGTERM with a short grace window, then SIGKILL the group and
// sweep descendants. Shutdown runs all three steps; Terminate skips
// the sentinel.
func DefaultPolicy() []Step {
	return []Step{
		{Action: ActionSentinel, Wait: 30 * time.Second},
		{Action: ActionSignal, Signal: unix.SIGTERM, Wait: 5 * time.Second},
		{Action: ActionKillGroup, Signal: unix.SIGKILL, Wait: 2 * time.Second},
	}
}
