// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessControl abstracts the OS operations used by the escalation
// policy so tests can inject a fake process instead of branching on
// real kernel behavior.
type ProcessControl interface {
	// Signal delivers sig to a single process.
	Signal(pid int, sig unix.Signal) error

	// SignalGroup delivers sig to an entire process group.
	SignalGroup(pgid int, sig unix.Signal) error

	// Alive reports whether a process with the given pid exists.
	Alive(pid int) bool

	// KillMatching force-kills every process whose command line
	// contains signature, excluding the calling process. Returns
	// the number of processes signalled. Used as the last escalation
	// step to reap descendant helpers that escaped the process
	// group.
	KillMatching(signature string) (int, error)
}

// UnixControl returns the real ProcessControl backed by kill(2) and
// the /proc filesystem.
func UnixControl() ProcessControl { return unixControl{} }

type unixControl struct{}

func (unixControl) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

func (unixControl) SignalGroup(pgid int, sig unix.Signal) error {
	return unix.Kill(-pgid, sig)
}

func (unixControl) Alive(pid int) bool {
	// Signal 0 performs the existence and permission checks without
	// delivering anything.
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func (unixControl) KillMatching(signature string) (int, error) {
	if signature == "" {
		return 0, nil
	}
	self := os.Getpid()

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			// The process exited between readdir and read, or it
			// belongs to another user. Either way it is not ours to
			// kill.
			continue
		}

		// cmdline is NUL-separated argv.
		argv := strings.ReplaceAll(string(bytes.TrimRight(cmdline, "\x00")), "\x00", " ")
		if !strings.Contains(argv, signature) {
			continue
		}

		if err := unix.Kill(pid, unix.SIGKILL); err == nil {
			killed++
		}
	}
	return killed, nil
}
