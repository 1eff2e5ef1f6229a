// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of swarm binaries.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X .../lib/version.Version=v1.2.3". When left empty, Info
// falls back to module build metadata.
var Version string

// Info returns a human-readable version string for --version output.
func Info() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "devel"
}
