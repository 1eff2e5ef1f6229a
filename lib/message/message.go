// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the reserved destination name that fans a message out to
// every registered agent except the sender. No agent may be registered
// under this name.
const Broadcast = "all"

// Extension is the filename suffix for message files in mailboxes.
const Extension = ".msg"

// Kind identifies the variant of a message. The kind determines which
// payload fields are meaningful; everything else is ignored on read.
type Kind string

const (
	// KindText is an ordinary agent-to-agent text message.
	KindText Kind = "text"

	// KindDeliveryError is synthesized by the router when a message
	// cannot be delivered. Agents never create this kind themselves;
	// the router addresses it back to the original sender.
	KindDeliveryError Kind = "DELIVERY_ERROR"

	// KindShutdown is the coordinator's graceful-shutdown notice. An
	// agent receiving it should persist its state and exit before the
	// grace period ends.
	KindShutdown Kind = "shutdown"

	// KindBrainRequest and KindBrainResponse carry opaque payloads for
	// the reasoning backend. The orchestration core routes them like
	// any other message and never inspects the payload.
	KindBrainRequest  Kind = "brain_request"
	KindBrainResponse Kind = "brain_response"
)

// Message is one mailbox message. A message is written exactly once by
// its sender into the sender's own outbox and never mutated afterward;
// the router relocates it by atomic rename.
type Message struct {
	// ID uniquely identifies the message and names its file
	// ("<id>.msg"). Consumers that need exactly-once semantics must
	// deduplicate on this field: delivery is at-least-once.
	ID string `json:"id"`

	// From is the sending agent's name.
	From string `json:"from"`

	// To is the recipient agent's name, or Broadcast.
	To string `json:"to"`

	// Type selects the message variant.
	Type Kind `json:"type"`

	// Timestamp is when the sender created the message. Optional;
	// omitted when zero.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Content is the text body for KindText and KindShutdown.
	Content string `json:"content,omitempty"`

	// Failure describes the undeliverable original for
	// KindDeliveryError.
	Failure *DeliveryFailure `json:"failure,omitempty"`

	// Payload is the opaque body for the brain request/response kinds.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeliveryFailure is the payload of a KindDeliveryError message. It
// references the original message so the sender can correlate the
// failure without the router having to retain the original.
type DeliveryFailure struct {
	// OriginalID is the ID of the message that could not be delivered.
	// Empty when the original file was unparseable.
	OriginalID string `json:"original_id,omitempty"`

	// OriginalTo is the destination the original named.
	OriginalTo string `json:"original_to,omitempty"`

	// Reason is a human-readable description of the failure.
	Reason string `json:"reason"`

	// Digest is the lowercase hex BLAKE3 digest of the original file's
	// bytes, letting the sender match the failure to an exact payload
	// even when the ID was missing or reused.
	Digest string `json:"digest,omitempty"`
}

// NewID returns a fresh message ID. IDs are UUIDs, which keeps them
// filename-safe and collision-free across independent agents.
func NewID() string {
	return uuid.NewString()
}

// FileName returns the mailbox filename for the message.
func (m *Message) FileName() string {
	return m.ID + Extension
}

// Validate checks the invariants enforced at the filesystem boundary:
// required fields present, the ID safe to use as a filename, and the
// kind-specific payload shape correct. Messages read from disk and
// messages about to be written both pass through here.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message has no id")
	}
	if err := validateName(m.ID, "id"); err != nil {
		return err
	}
	if m.From == "" {
		return fmt.Errorf("message %s has no sender", m.ID)
	}
	if m.To == "" {
		return fmt.Errorf("message %s has no recipient", m.ID)
	}
	switch m.Type {
	case KindText, KindShutdown:
		// Content may legitimately be empty (a bare notification).
	case KindDeliveryError:
		if m.Failure == nil {
			return fmt.Errorf("message %s is a delivery error without failure detail", m.ID)
		}
		if m.Failure.Reason == "" {
			return fmt.Errorf("message %s is a delivery error without a reason", m.ID)
		}
	case KindBrainRequest, KindBrainResponse:
		if len(m.Payload) == 0 {
			return fmt.Errorf("message %s is a %s without a payload", m.ID, m.Type)
		}
	case "":
		return fmt.Errorf("message %s has no type", m.ID)
	default:
		return fmt.Errorf("message %s has unknown type %q", m.ID, m.Type)
	}
	return nil
}

// validateName rejects values that could escape a mailbox directory
// when used as a path component.
func validateName(value, field string) error {
	if strings.ContainsAny(value, "/\x00") || value == "." || value == ".." {
		return fmt.Errorf("message %s %q is not filename-safe", field, value)
	}
	return nil
}
