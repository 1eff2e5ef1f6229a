// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validMessage() *Message {
	return &Message{
		ID:      NewID(),
		From:    "alice",
		To:      "bob",
		Type:    KindText,
		Content: "hi",
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Message)
		wantErr string
	}{
		{"valid text", func(m *Message) {}, ""},
		{"empty content is fine", func(m *Message) { m.Content = "" }, ""},
		{"broadcast recipient", func(m *Message) { m.To = Broadcast }, ""},
		{"missing id", func(m *Message) { m.ID = "" }, "no id"},
		{"missing sender", func(m *Message) { m.From = "" }, "no sender"},
		{"missing recipient", func(m *Message) { m.To = "" }, "no recipient"},
		{"missing type", func(m *Message) { m.Type = "" }, "no type"},
		{"unknown type", func(m *Message) { m.Type = "carrier-pigeon" }, "unknown type"},
		{"path traversal id", func(m *Message) { m.ID = "../../etc/passwd" }, "not filename-safe"},
		{"dot id", func(m *Message) { m.ID = "." }, "not filename-safe"},
		{
			"delivery error without detail",
			func(m *Message) { m.Type = KindDeliveryError },
			"without failure detail",
		},
		{
			"delivery error without reason",
			func(m *Message) {
				m.Type = KindDeliveryError
				m.Failure = &DeliveryFailure{}
			},
			"without a reason",
		},
		{
			"brain request without payload",
			func(m *Message) { m.Type = KindBrainRequest },
			"without a payload",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMessage()
			tc.mutate(m)
			err := m.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	m := validMessage()

	path, err := Write(dir, m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != m.FileName() {
		t.Errorf("written as %s, want %s", filepath.Base(path), m.FileName())
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != m.ID || got.From != m.From || got.To != m.To || got.Content != m.Content {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}

func TestWriteRejectsInvalidMessage(t *testing.T) {
	dir := t.TempDir()
	m := validMessage()
	m.From = ""

	if _, err := Write(dir, m); err == nil {
		t.Fatal("Write accepted an invalid message")
	}

	// Nothing, not even a temp file, may be left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("directory not clean after failed write: %v", entries)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, validMessage()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Error("Parse accepted malformed JSON")
	}
	if _, err := Parse([]byte(`{"id":"x"}`)); err == nil {
		t.Error("Parse accepted a message missing required fields")
	}
}
