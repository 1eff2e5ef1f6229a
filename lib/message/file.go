// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically writes a message into a mailbox directory. The file
// is written to a temporary name in the same directory, fsynced, and
// renamed to "<id>.msg", so a concurrent reader never observes a
// partial message. The parent directory is synced afterward so the
// rename survives a power loss.
//
// Returns the final path of the message file.
func Write(dir string, m *Message) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling message %s: %w", m.ID, err)
	}
	data = append(data, '\n')

	finalPath := filepath.Join(dir, m.FileName())
	if err := WriteRaw(finalPath, data); err != nil {
		return "", err
	}
	return finalPath, nil
}

// WriteRaw atomically writes pre-serialized message bytes to path.
// The router uses this to deliver a byte-identical copy of a message
// file without a decode/re-encode round trip.
func WriteRaw(path string, data []byte) error {
	temporaryPath := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary message file: %w", err)
	}

	// Write, sync, close, then rename. If any step fails, remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary message file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary message file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary message file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming message file into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}

// Parse unmarshals and validates message bytes. The router parses raw
// file bytes so it can both inspect the header and deliver a
// byte-identical copy.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Read reads and validates a message file. The returned error wraps
// the underlying cause: os errors for unreadable files, a parse error
// for malformed JSON, a validation error for structurally invalid
// messages. The router converts any of these into a DELIVERY_ERROR
// rather than propagating them.
func Read(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("message file %s: %w", path, err)
	}
	return m, nil
}
