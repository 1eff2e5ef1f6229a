// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// swarm-agent-mock is a test binary that exercises the orchestration
// loop from inside a real sandbox. It behaves like a minimal
// cooperative agent: it polls its inbox, echoes every text message
// back to the sender, moves processed messages aside, and exits
// cleanly when the shutdown sentinel appears or a shutdown message
// arrives. A text message starting with "ask: " is forwarded through
// the shared brain exchange and the answer sent back, so end-to-end
// tests can cover the reasoning round trip too.
//
// It needs no network access, which isolates end-to-end tests to the
// orchestration core itself.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/brain"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/message"
	"github.com/ltngt-ai/mind-swarm-sub002/sandbox"
)

const (
	pollInterval = 250 * time.Millisecond

	// askPrefix marks text messages to route through the brain
	// exchange instead of echoing.
	askPrefix = "ask: "

	// brainTimeout bounds a single brain round trip.
	brainTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "swarm-agent-mock: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	name := os.Getenv("AGENT_NAME")
	if name == "" {
		return fmt.Errorf("AGENT_NAME not set")
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = sandbox.HomeMount
	}

	shared := os.Getenv("SWARM_SHARED")
	if shared == "" {
		shared = sandbox.SharedMount
	}

	a := &agent{
		name:      name,
		inbox:     filepath.Join(home, "inbox"),
		processed: filepath.Join(home, "inbox", "processed"),
		outbox:    filepath.Join(home, "outbox"),
	}

	// The brain exchange is optional: without it, ask messages get an
	// error reply instead of an answer.
	if exchange, err := brain.New(brain.Config{Dir: filepath.Join(shared, "brain")}); err == nil {
		a.exchange = exchange
	}

	sentinel := filepath.Join(home, sandbox.ControlDirName, sandbox.SentinelName)

	fmt.Printf("mock agent %s started\n", name)

	for {
		if _, err := os.Stat(sentinel); err == nil {
			fmt.Printf("mock agent %s: shutdown sentinel seen, exiting\n", name)
			return nil
		}

		stop, err := a.drainInbox()
		if err != nil {
			return err
		}
		if stop {
			fmt.Printf("mock agent %s: shutdown message received, exiting\n", name)
			return nil
		}

		time.Sleep(pollInterval)
	}
}

type agent struct {
	name      string
	inbox     string
	processed string
	outbox    string
	exchange  *brain.Exchange
}

// drainInbox processes every pending message once, oldest first.
// Returns true when a shutdown message was received.
func (a *agent) drainInbox() (bool, error) {
	entries, err := os.ReadDir(a.inbox)
	if err != nil {
		return false, fmt.Errorf("reading inbox: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	shutdown := false
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != message.Extension {
			continue
		}
		path := filepath.Join(a.inbox, entry.Name())

		m, err := message.Read(path)
		if err != nil {
			// Unreadable messages are moved aside so they cannot wedge
			// the loop.
			fmt.Fprintf(os.Stderr, "mock agent %s: dropping %s: %v\n", a.name, entry.Name(), err)
			_ = os.Rename(path, filepath.Join(a.processed, entry.Name()))
			continue
		}

		switch m.Type {
		case message.KindShutdown:
			shutdown = true
		case message.KindText:
			if err := a.reply(m, a.answer(m.Content)); err != nil {
				return false, err
			}
		}

		if err := os.Rename(path, filepath.Join(a.processed, entry.Name())); err != nil {
			return false, fmt.Errorf("archiving %s: %w", entry.Name(), err)
		}
	}
	return shutdown, nil
}

// answer computes the reply body for an incoming text message. Plain
// text is echoed; an "ask: " prefix routes the remainder through the
// brain exchange.
func (a *agent) answer(content string) string {
	question, ok := strings.CutPrefix(content, askPrefix)
	if !ok {
		return fmt.Sprintf("echo: %s", content)
	}
	if a.exchange == nil {
		return "error: no brain exchange available"
	}

	ctx, cancel := context.WithTimeout(context.Background(), brainTimeout)
	defer cancel()
	response, err := a.exchange.Ask(ctx, []byte(question))
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(response)
}

func (a *agent) reply(m *message.Message, content string) error {
	reply := &message.Message{
		ID:        message.NewID(),
		From:      a.name,
		To:        m.From,
		Type:      message.KindText,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
	if _, err := message.Write(a.outbox, reply); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}
