// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "fmt"

// ConfigurationError reports a host misconfiguration that no retry can
// fix: a required runtime binary missing, an unusable root directory,
// bwrap not installed. Callers surface it synchronously and do not
// retry.
type ConfigurationError struct {
	// What describes the missing or broken prerequisite.
	What string

	// Err is the underlying cause, when there is one.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.What)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
