// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox constructs the isolated execution environment for one
// agent process. Isolation is built on bubblewrap (bwrap): private
// mount, PID, and network namespaces, a cleared and explicitly
// allow-listed environment, and a fixed set of bind mounts.
//
// An agent sees exactly three filesystem surfaces:
//
//   - /agent: its private home (mailboxes, memory, drafts),
//     read-write, with /agent/code re-bound read-only
//   - /shared: the swarm-wide collaboration area, read-write
//   - /tools: the host tools directory, read-only
//
// Network access is denied entirely (--unshare-net with no loopback
// setup). The only way in or out of a sandbox is the filesystem.
//
// The Factory provisions the per-agent directory tree on the host and
// computes a Spec; the supervisor turns the Spec into a bwrap argv and
// launches it. Provisioning is idempotent: re-provisioning an existing
// agent refreshes only the read-only code subtree and never touches
// inbox, outbox, drafts, or memory.
package sandbox
