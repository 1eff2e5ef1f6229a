// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:     ":memory:",
		PoolSize: 1,
		Clock:    clock.Fake(testEpoch),
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := json.RawMessage(`{"model":"small"}`)
	if err := s.Create(ctx, "alice", "worker", cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	record, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Name != "alice" || record.Type != "worker" {
		t.Errorf("record = %+v", record)
	}
	if record.Lifecycle != Active {
		t.Errorf("lifecycle = %s, want %s", record.Lifecycle, Active)
	}
	if string(record.Config) != `{"model":"small"}` {
		t.Errorf("config = %s", record.Config)
	}
	if !record.CreatedAt.Equal(testEpoch) {
		t.Errorf("created_at = %v, want %v", record.CreatedAt, testEpoch)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "alice", "worker", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, "alice", "worker", nil)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second Create = %v, want ErrExists", err)
	}
}

func TestCreateNilConfigStoredAsEmptyObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "alice", "worker", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	record, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(record.Config) != "{}" {
		t.Errorf("config = %q, want {}", record.Config)
	}
}

func TestUpdateLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "alice", "worker", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.UpdateLifecycle(ctx, "alice", Sleeping); err != nil {
		t.Fatalf("UpdateLifecycle: %v", err)
	}

	record, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Lifecycle != Sleeping {
		t.Errorf("lifecycle = %s, want %s", record.Lifecycle, Sleeping)
	}
}

func TestUpdateLifecycleUnknownAgent(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateLifecycle(context.Background(), "nobody", Sleeping)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateLifecycle = %v, want ErrNotFound", err)
	}
}

func TestUpdateLifecycleRejectsInvalidState(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateLifecycle(context.Background(), "alice", "NAPPING"); err == nil {
		t.Fatal("invalid lifecycle accepted")
	}
}

func TestGetUnknownAgent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestListFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		if err := s.Create(ctx, name, "worker", nil); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	if err := s.UpdateLifecycle(ctx, "bob", Sleeping); err != nil {
		t.Fatalf("UpdateLifecycle: %v", err)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d records, want 3", len(all))
	}
	// Ordered by name.
	if all[0].Name != "alice" || all[1].Name != "bob" || all[2].Name != "carol" {
		t.Errorf("order = %s, %s, %s", all[0].Name, all[1].Name, all[2].Name)
	}

	sleeping, err := s.List(ctx, Sleeping)
	if err != nil {
		t.Fatalf("List(Sleeping): %v", err)
	}
	if len(sleeping) != 1 || sleeping[0].Name != "bob" {
		t.Errorf("sleeping = %+v, want just bob", sleeping)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "alice", "worker", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.db")
	ctx := context.Background()

	first, err := Open(Config{
		Path:   path,
		Clock:  clock.Fake(testEpoch),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Create(ctx, "alice", "worker", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := first.UpdateLifecycle(ctx, "alice", Sleeping); err != nil {
		t.Fatalf("UpdateLifecycle: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(Config{
		Path:   path,
		Clock:  clock.Fake(testEpoch),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer second.Close()

	record, err := second.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if record.Lifecycle != Sleeping {
		t.Errorf("lifecycle = %s, want %s", record.Lifecycle, Sleeping)
	}
}
