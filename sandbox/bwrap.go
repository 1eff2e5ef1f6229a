// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// BuildArgs constructs the bwrap argument list for a spec. The
// namespace and security options are fixed policy, not configuration:
// every agent gets a private PID namespace, no network, a new session,
// and dies with the supervisor.
func BuildArgs(spec *Spec) ([]string, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec is required")
	}
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("spec has no command")
	}

	args := []string{
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--die-with-parent",
		"--new-session",
		"--proc", "/proc",
		"--dev", "/dev",
		"--ro-bind", "/usr", "/usr",
		"--symlink", "usr/bin", "/bin",
		"--symlink", "usr/lib", "/lib",
		"--symlink", "usr/lib64", "/lib64",
		"--tmpfs", "/tmp",
	}

	for _, mount := range spec.Mounts {
		switch mount.Mode {
		case MountModeRO:
			args = append(args, "--ro-bind", mount.Source, mount.Dest)
		case MountModeRW:
			args = append(args, "--bind", mount.Source, mount.Dest)
		default:
			return nil, fmt.Errorf("mount %s has invalid mode %q", mount.Dest, mount.Mode)
		}
	}

	// Clear the inherited environment, then set the allow-list in
	// sorted order for deterministic argv.
	args = append(args, "--clearenv")
	keys := make([]string, 0, len(spec.Environment))
	for key := range spec.Environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, spec.Environment[key])
	}

	if spec.WorkingDirectory != "" {
		args = append(args, "--chdir", spec.WorkingDirectory)
	}

	args = append(args, "--")
	args = append(args, spec.Command...)
	return args, nil
}

// BwrapPath returns the path to the bwrap executable, or a
// ConfigurationError when it is not installed. PATH wins over the
// standard locations so non-standard installs work.
func BwrapPath() (string, error) {
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &ConfigurationError{What: "bwrap not found in standard locations"}
}
