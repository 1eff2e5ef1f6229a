// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package router moves messages between agent mailboxes. One RouteOnce
// call scans every agent's outbox, oldest-first within each outbox,
// and relocates each message: into the recipient's inbox, into every
// other inbox for a broadcast, or back to the sender as a synthesized
// DELIVERY_ERROR when the recipient does not exist or the file is
// unparseable. The routed original ends up in the sender's outbox/sent
// audit directory once every destination copy is in place; a failed
// inbox write leaves the original in the outbox so the next pass
// retries it.
//
// Delivery is at-least-once, not exactly-once: a crash between writing
// the destination copy and archiving the source redelivers on the next
// tick. The router detects the common case (destination file already
// present with an identical BLAKE3 digest) and repeats only the
// archive step; consumers that need exactly-once must still
// deduplicate by message id. No cross-agent ordering is guaranteed:
// agents are independent, and the poll interval bounds latency, not
// order.
package router

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/message"
)

// RouterSender is the From value on synthesized DELIVERY_ERROR
// messages. It is not a registered agent; it is reserved in the same
// way the broadcast destination is.
const RouterSender = "router"

// AgentLister enumerates the currently provisioned agents. The sandbox
// factory satisfies this; tests use a literal.
type AgentLister interface {
	ListAgents() ([]string, error)
}

// Config holds the parameters for creating a Router.
type Config struct {
	// Root is the swarm root directory; mailboxes live under
	// "<root>/agents/<name>". Required.
	Root string

	// Agents lists the registered agents. Required.
	Agents AgentLister

	// Clock provides timestamps for synthesized messages. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives per-message routing diagnostics. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// Router relocates mailbox messages. It owns no long-lived state (all
// routing state lives on disk), so a Router is safe to recreate at any
// time. It is not safe for concurrent RouteOnce calls; the coordinator
// runs it from a single loop.
type Router struct {
	root   string
	agents AgentLister
	clock  clock.Clock
	logger *slog.Logger
}

// Stats summarizes one RouteOnce pass.
type Stats struct {
	// Scanned is the number of outbox message files examined.
	Scanned int

	// Delivered counts destination inbox copies written, including
	// each broadcast recipient.
	Delivered int

	// Failures counts DELIVERY_ERROR messages synthesized.
	Failures int
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("router: Root is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("router: Agents is required")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		root:   cfg.Root,
		agents: cfg.Agents,
		clock:  c,
		logger: logger,
	}, nil
}

// RouteOnce performs one full routing pass. Per-message failures are
// converted into DELIVERY_ERROR messages or logged; only systemic
// failures (the agent list itself unavailable) are returned as errors.
func (r *Router) RouteOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	names, err := r.agents.ListAgents()
	if err != nil {
		return stats, fmt.Errorf("router: %w", err)
	}
	sort.Strings(names)

	registered := make(map[string]bool, len(names))
	for _, name := range names {
		registered[name] = true
	}

	for _, sender := range names {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		r.routeOutbox(sender, names, registered, &stats)
	}
	return stats, nil
}

// routeOutbox processes one agent's outbox, oldest-first by
// modification time.
func (r *Router) routeOutbox(sender string, names []string, registered map[string]bool, stats *Stats) {
	outbox := r.mailboxDir(sender, "outbox")

	entries, err := os.ReadDir(outbox)
	if err != nil {
		// A half-provisioned agent directory is not a routing error;
		// the next tick will see it complete.
		r.logger.Warn("outbox unreadable", "agent", sender, "error", err)
		return
	}

	type pending struct {
		name    string
		modTime time.Time
	}
	var files []pending
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), message.Extension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{name: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, file := range files {
		stats.Scanned++
		r.routeFile(sender, filepath.Join(outbox, file.name), names, registered, stats)
	}
}

// routeFile routes a single outbox message file end to end.
func (r *Router) routeFile(sender, path string, names []string, registered map[string]bool, stats *Stats) {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("outbox file unreadable", "agent", sender, "file", path, "error", err)
		return
	}
	digest := contentDigest(raw)

	msg, err := message.Parse(raw)
	if err != nil {
		r.logger.Info("unparseable outbox message",
			"agent", sender, "file", path, "error", err)
		if !r.returnFailure(sender, &message.DeliveryFailure{
			Reason: fmt.Sprintf("unparseable message: %v", err),
			Digest: digest,
		}, stats) {
			return
		}
		r.archive(sender, path)
		return
	}

	switch {
	case msg.To == message.Broadcast:
		// A failed recipient keeps the original in the outbox for the
		// next pass; the digest check skips recipients that already
		// have their copy.
		incomplete := false
		for _, recipient := range names {
			if recipient == sender {
				continue
			}
			wrote, err := r.deliver(recipient, msg.FileName(), raw, digest)
			if err != nil {
				incomplete = true
				continue
			}
			if wrote {
				stats.Delivered++
			}
		}
		if incomplete {
			return
		}

	case registered[msg.To]:
		wrote, err := r.deliver(msg.To, msg.FileName(), raw, digest)
		if err != nil {
			// Undelivered and unreported; archiving here would lose
			// the message. The next pass retries.
			return
		}
		if wrote {
			stats.Delivered++
		}

	default:
		r.logger.Info("message addressed to unknown agent",
			"from", sender, "to", msg.To, "id", msg.ID)
		if !r.returnFailure(sender, &message.DeliveryFailure{
			OriginalID: msg.ID,
			OriginalTo: msg.To,
			Reason:     fmt.Sprintf("agent %q does not exist", msg.To),
			Digest:     digest,
		}, stats) {
			return
		}
	}

	r.archive(sender, path)
}

// deliver writes a byte-identical copy of the message into the
// recipient's inbox. Reports whether a new copy was written; a write
// error is returned so the caller can leave the original in the outbox
// instead of archiving an undelivered message.
//
// If the destination file already exists with the same digest, the
// copy phase of a previous crashed pass already completed; only the
// archive step remains, so nothing is written. A different digest
// means an id collision; the copy is delivered under a digest-suffixed
// name rather than clobbering the existing file.
func (r *Router) deliver(recipient, filename string, raw []byte, digest string) (bool, error) {
	inbox := r.mailboxDir(recipient, "inbox")
	destination := filepath.Join(inbox, filename)

	if existing, err := os.ReadFile(destination); err == nil {
		if contentDigest(existing) == digest {
			return false, nil
		}
		base := strings.TrimSuffix(filename, message.Extension)
		destination = filepath.Join(inbox, base+"."+digest[:8]+message.Extension)
	}

	if err := message.WriteRaw(destination, raw); err != nil {
		r.logger.Error("inbox delivery failed",
			"recipient", recipient, "file", destination, "error", err)
		return false, err
	}
	return true, nil
}

// returnFailure synthesizes a DELIVERY_ERROR and delivers it into the
// sender's own inbox. Reports whether the report was written; the
// original must stay in the outbox until the sender has been told why
// it could not be delivered.
func (r *Router) returnFailure(sender string, failure *message.DeliveryFailure, stats *Stats) bool {
	errorMessage := &message.Message{
		ID:        message.NewID(),
		From:      RouterSender,
		To:        sender,
		Type:      message.KindDeliveryError,
		Timestamp: r.clock.Now().UTC(),
		Failure:   failure,
	}

	if _, err := message.Write(r.mailboxDir(sender, "inbox"), errorMessage); err != nil {
		r.logger.Error("delivery error report failed",
			"sender", sender, "error", err)
		return false
	}
	stats.Failures++
	return true
}

// archive moves a routed outbox file into the sender's outbox/sent
// audit directory. Rename within one filesystem is atomic; an existing
// file of the same name (a redelivered duplicate) is replaced.
func (r *Router) archive(sender, path string) {
	sent := filepath.Join(r.mailboxDir(sender, "outbox"), "sent", filepath.Base(path))
	if err := os.Rename(path, sent); err != nil {
		r.logger.Error("archiving routed message failed",
			"sender", sender, "file", path, "error", err)
	}
}

func (r *Router) mailboxDir(agent, box string) string {
	return filepath.Join(r.root, "agents", agent, box)
}

// contentDigest returns the lowercase hex BLAKE3 digest of raw message
// bytes. Used for duplicate detection and for failure reports.
func contentDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
