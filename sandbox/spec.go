// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "path/filepath"

// Mount points visible inside every agent sandbox. These are fixed
// protocol constants: agent code is written against them.
const (
	// HomeMount is where the agent's private home directory appears.
	HomeMount = "/agent"

	// CodeMount is the read-only code subtree inside the home.
	CodeMount = "/agent/code"

	// SharedMount is the swarm-wide read-write collaboration area.
	SharedMount = "/shared"

	// ToolsMount is the read-only host tools directory.
	ToolsMount = "/tools"

	// ControlDirName is the control subdirectory inside the agent's
	// private home. The supervisor writes the shutdown sentinel here.
	ControlDirName = ".control"

	// SentinelName is the cooperative-shutdown sentinel file. Its
	// presence at /agent/.control/shutdown asks the agent's run loop
	// to persist state and exit.
	SentinelName = "shutdown"

	// ConfigFileName is the per-agent configuration blob the
	// coordinator materializes at the root of the home directory, so
	// the agent reads it at /agent/config.json.
	ConfigFileName = "config.json"
)

// Mount modes.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// Mount is one bind mount in a sandbox spec.
type Mount struct {
	// Source is the host path.
	Source string

	// Dest is the path inside the sandbox.
	Dest string

	// Mode is MountModeRO or MountModeRW.
	Mode string
}

// Spec is the complete description of one agent launch environment.
// It is computed fresh by Factory.Provision for every launch and never
// mutates an existing agent's private directories. The supervisor is
// the only consumer.
type Spec struct {
	// Name is the agent the spec was provisioned for.
	Name string

	// Type is the agent-type definition the spec was built from.
	Type string

	// Home is the host path of the agent's private directory tree.
	Home string

	// Mounts are the bind mounts, applied in order. Later mounts may
	// shadow earlier ones (the read-only code bind shadows part of
	// the read-write home bind).
	Mounts []Mount

	// Environment is the explicit allow-list set after --clearenv.
	Environment map[string]string

	// WorkingDirectory is the chdir target inside the sandbox.
	WorkingDirectory string

	// Command is the argv executed inside the sandbox.
	Command []string
}

// ControlDir returns the host path of the agent's control directory.
func (s *Spec) ControlDir() string {
	return filepath.Join(s.Home, ControlDirName)
}

// SentinelPath returns the host path of the shutdown sentinel file.
func (s *Spec) SentinelPath() string {
	return filepath.Join(s.Home, ControlDirName, SentinelName)
}
