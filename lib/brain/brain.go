// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package brain is the file-based exchange agents use to reach the
// shared reasoning service. A request is written atomically as
// <id>.req under the exchange directory; the service answers by
// writing <id>.resp next to it. The payloads are opaque to the core,
// which only moves bytes.
package brain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/message"
)

const (
	requestExt  = ".req"
	responseExt = ".resp"

	// pollInterval is how often Await re-checks for a response file.
	pollInterval = 200 * time.Millisecond
)

// Config configures an Exchange.
type Config struct {
	// Dir is the exchange directory, shared between agents and the
	// reasoning service. It must already exist.
	Dir string

	// Clock drives response polling. Defaults to the real clock.
	Clock clock.Clock
}

// Exchange submits requests and collects responses.
type Exchange struct {
	dir   string
	clock clock.Clock
}

// New creates an Exchange over config.Dir.
func New(config Config) (*Exchange, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("brain: exchange directory not configured")
	}
	info, err := os.Stat(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("brain: exchange directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("brain: %s is not a directory", config.Dir)
	}
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Exchange{dir: config.Dir, clock: c}, nil
}

// Submit writes a request file and returns its id. The caller collects
// the answer with Await or the combined Ask.
func (e *Exchange) Submit(payload []byte) (string, error) {
	id := message.NewID()
	path := filepath.Join(e.dir, id+requestExt)
	if err := message.WriteRaw(path, payload); err != nil {
		return "", fmt.Errorf("brain: write request %s: %w", id, err)
	}
	return id, nil
}

// Await blocks until the response for id appears, then consumes it.
// The response file is removed once read. ctx bounds the wait.
func (e *Exchange) Await(ctx context.Context, id string) ([]byte, error) {
	path := filepath.Join(e.dir, id+responseExt)
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			if removeErr := os.Remove(path); removeErr != nil {
				return nil, fmt.Errorf("brain: consume response %s: %w", id, removeErr)
			}
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("brain: read response %s: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("brain: awaiting response %s: %w", id, ctx.Err())
		case <-e.clock.After(pollInterval):
		}
	}
}

// Ask submits payload and waits for the matching response.
func (e *Exchange) Ask(ctx context.Context, payload []byte) ([]byte, error) {
	id, err := e.Submit(payload)
	if err != nil {
		return nil, err
	}
	return e.Await(ctx, id)
}
