// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentdef provides parsing and validation for agent-type
// definitions. A definition names the runtime command an agent of that
// type runs, the code template copied into the agent's read-only code
// directory on every provision, and any extra environment variables
// beyond the standard sandbox allow-list.
//
// Definitions are authored on disk as JSONC files (JSON extended with
// // line comments, /* block comments */, and trailing commas), one
// file per agent type: "<types-dir>/<type>.jsonc".
package agentdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Definition describes one agent type.
type Definition struct {
	// Type is the agent type name. Filled from the filename by
	// ReadFile; a value in the file itself must match.
	Type string `json:"type,omitempty"`

	// Command is the argv run inside the sandbox. The first element
	// is resolved against the sandbox's tools directory PATH.
	Command []string `json:"command"`

	// CodeTemplate is the host directory copied into the agent's
	// read-only code subtree on provision. Optional; when empty the
	// code directory is created but left empty.
	CodeTemplate string `json:"code_template,omitempty"`

	// Environment is extra allow-listed environment variables for
	// this type, merged over the factory's standard set.
	Environment map[string]string `json:"environment,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Definition.
func Parse(data []byte) (*Definition, error) {
	stripped := jsonc.ToJSON(data)

	var definition Definition
	if err := json.Unmarshal(stripped, &definition); err != nil {
		return nil, fmt.Errorf("parsing agent definition: %w", err)
	}
	return &definition, nil
}

// ReadFile reads "<dir>/<agentType>.jsonc", parses it, and validates
// it. The Type field is derived from the filename; a conflicting Type
// inside the file is an error.
func ReadFile(dir, agentType string) (*Definition, error) {
	if strings.ContainsAny(agentType, "/\x00") || agentType == "" {
		return nil, fmt.Errorf("invalid agent type %q", agentType)
	}

	path := filepath.Join(dir, agentType+".jsonc")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	definition, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if definition.Type != "" && definition.Type != agentType {
		return nil, fmt.Errorf("%s: type %q does not match filename", path, definition.Type)
	}
	definition.Type = agentType

	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return definition, nil
}

// Validate performs structural checks on a definition.
func (d *Definition) Validate() error {
	if len(d.Command) == 0 {
		return fmt.Errorf("agent type %q has no command", d.Type)
	}
	for key := range d.Environment {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return fmt.Errorf("agent type %q has invalid environment key %q", d.Type, key)
		}
	}
	return nil
}
