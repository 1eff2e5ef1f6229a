// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/agentlog"
)

// State is a handle's position in the lifecycle state machine.
type State string

const (
	// Starting means the process has been forked but the supervisor
	// has not yet observed it running.
	Starting State = "STARTING"

	// Running means the process is alive and tracked.
	Running State = "RUNNING"

	// ShuttingDown means a cooperative shutdown escalation is in
	// progress.
	ShuttingDown State = "SHUTTING_DOWN"

	// Killing means the escalation has reached the forceful steps.
	Killing State = "KILLING"

	// Stopped means the process exited under supervisor control.
	// Terminal.
	Stopped State = "STOPPED"

	// Crashed means the monitor observed an exit the supervisor did
	// not request. Terminal.
	Crashed State = "CRASHED"
)

// terminal reports whether a state has no outgoing transitions.
func (s State) terminal() bool {
	return s == Stopped || s == Crashed
}

// Handle is the supervisor's record of one launched process. It is
// created by Start, discarded after termination, and never reused. The
// coordinator holds only the reference; all mutation happens inside
// this package.
type Handle struct {
	// Name is the agent the process belongs to.
	Name string

	// PID is the OS process id of the sandbox wrapper.
	PID int

	// PGID is the process group id; the whole group is killed at the
	// final escalation step.
	PGID int

	// StartedAt is when the process was launched.
	StartedAt time.Time

	// signature matches descendant helper processes by command line
	// during the final escalation step. It is the agent's host home
	// path, which appears in every bwrap bind argument.
	signature string

	// sentinelPath is the host path of the cooperative shutdown
	// sentinel.
	sentinelPath string

	// cmd is the started command. Nil for handles recovered from a
	// state file after an orchestrator restart.
	cmd *exec.Cmd

	// log is the agent's rotating log writer; closed when the process
	// is reaped.
	log *agentlog.Writer

	// stderrTail retains the last stretch of stderr for crash
	// reports.
	stderrTail *tailBuffer

	// done is closed once the exit status has been collected.
	done chan struct{}

	mu       sync.Mutex
	state    State
	exitCode int
	exitErr  error
}

// State returns the handle's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Alive reports whether the process has not yet reported an exit
// status.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the collected exit code. Only meaningful once Done
// is closed; -1 means the process was killed by a signal or the code
// is unknown.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// setState applies a transition, refusing to leave a terminal state.
func (h *Handle) setState(next State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.terminal() {
		return
	}
	h.state = next
}

// StderrTail returns the retained trailing stderr output, for crash
// diagnostics.
func (h *Handle) StderrTail() string {
	if h.stderrTail == nil {
		return ""
	}
	return h.stderrTail.String()
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s (pid %d, %s)", h.Name, h.PID, h.State())
}
