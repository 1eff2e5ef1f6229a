// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseStripsComments(t *testing.T) {
	input := `{
	// The worker type.
	"command": ["/tools/bin/worker", "--serve"],
	/* Extra environment. */
	"environment": {
		"WORKER_THREADS": "4", // trailing comma below is fine
	},
}`
	definition, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !slices.Equal(definition.Command, []string{"/tools/bin/worker", "--serve"}) {
		t.Errorf("command = %v", definition.Command)
	}
	if definition.Environment["WORKER_THREADS"] != "4" {
		t.Errorf("environment = %v", definition.Environment)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"command": ["runner"]}`
	if err := os.WriteFile(filepath.Join(dir, "worker.jsonc"), []byte(content), 0644); err != nil {
		t.Fatalf("writing definition: %v", err)
	}

	definition, err := ReadFile(dir, "worker")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if definition.Type != "worker" {
		t.Errorf("type = %q, want filename-derived %q", definition.Type, "worker")
	}
}

func TestReadFileTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	content := `{"type": "scout", "command": ["runner"]}`
	if err := os.WriteFile(filepath.Join(dir, "worker.jsonc"), []byte(content), 0644); err != nil {
		t.Fatalf("writing definition: %v", err)
	}

	if _, err := ReadFile(dir, "worker"); err == nil {
		t.Fatal("type conflicting with filename accepted")
	}
}

func TestReadFileRejectsTraversal(t *testing.T) {
	if _, err := ReadFile(t.TempDir(), "../worker"); err == nil {
		t.Fatal("path traversal in agent type accepted")
	}
}

func TestValidate(t *testing.T) {
	if err := (&Definition{Type: "w"}).Validate(); err == nil {
		t.Error("definition without command accepted")
	}
	bad := &Definition{
		Type:        "w",
		Command:     []string{"runner"},
		Environment: map[string]string{"A=B": "x"},
	}
	if err := bad.Validate(); err == nil {
		t.Error("environment key containing '=' accepted")
	}
}
