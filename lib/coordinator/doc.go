// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator composes the sandbox factory, process
// supervisor, message router, and lifecycle store into the swarm's
// control surface. It owns the multi-step operations: creating an
// agent (provision, register, launch, with rollback on failure),
// graceful shutdown to SLEEPING, restoration of sleeping agents on
// startup, and destructive termination.
//
// The coordinator serializes lifecycle operations under one mutex.
// Message routing and process monitoring run from Run as independent
// loops; a failed routing pass is logged and the next pass proceeds.
package coordinator
