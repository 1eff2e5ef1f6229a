// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor launches, monitors, and terminates agent OS
// processes inside their sandbox boundary.
//
// Each launch produces a Handle that moves through a fixed state
// machine:
//
//	STARTING → RUNNING → SHUTTING_DOWN → STOPPED
//	                   → KILLING       → STOPPED
//	                   → CRASHED
//
// STOPPED and CRASHED are terminal; a subsequent run of the same agent
// always produces a new handle.
//
// Termination is an ordered escalation policy: a data table of steps
// (sentinel file, signal, process-group kill), each with a bounded
// wait. Timing out at one step is the designed trigger for the next,
// more forceful step, never an error. The final step additionally
// pattern-kills descendant helper processes by command-line signature,
// which defends against sandboxing wrappers that leave orphans.
//
// The monitor loop polls tracked handles and reports unexpected exits
// with their captured stderr. It never restarts anything: restart
// policy belongs to the coordinator.
package supervisor
