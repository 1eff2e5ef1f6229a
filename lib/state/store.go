// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package state persists agent lifecycle records. The store is the
// durable registry the coordinator consults on startup to re-spawn
// SLEEPING agents and updates on every lifecycle transition.
//
// Lifecycle is the coarse registration state of an agent (ACTIVE,
// HIBERNATING, SLEEPING), independent of whether its OS process
// currently exists. The agent's own internal memory is never stored
// here; restoring that is the agent's responsibility.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/sqlitepool"
)

// Lifecycle is an agent's registration state.
type Lifecycle string

const (
	// Active means the agent is registered and should have a running
	// process.
	Active Lifecycle = "ACTIVE"

	// Hibernating means the agent is registered but intentionally
	// paused by the intelligence layer. The orchestration core stores
	// and lists this state but never sets it.
	Hibernating Lifecycle = "HIBERNATING"

	// Sleeping means the agent was shut down gracefully and is
	// eligible for restoration on the next coordinator startup.
	Sleeping Lifecycle = "SLEEPING"
)

// Valid reports whether l is a known lifecycle state.
func (l Lifecycle) Valid() bool {
	switch l {
	case Active, Hibernating, Sleeping:
		return true
	}
	return false
}

// ErrNotFound is returned when an operation names an unregistered
// agent.
var ErrNotFound = errors.New("agent not registered")

// ErrExists is returned by Create when the name is already registered.
var ErrExists = errors.New("agent already registered")

// Record is one agent's registration.
type Record struct {
	// Name is the agent's unique name.
	Name string

	// Type is the agent-type definition the agent was created from.
	Type string

	// Lifecycle is the current registration state.
	Lifecycle Lifecycle

	// Config is the JSON snapshot of the agent's creation
	// configuration, replayed verbatim on restore.
	Config json.RawMessage

	// CreatedAt and UpdatedAt track registration and last transition
	// times.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config holds the parameters for opening a state store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist. Use ":memory:" with PoolSize 1 in tests.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock provides timestamps for records. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store is the SQLite-backed lifecycle registry. Safe for concurrent
// use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	name       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	lifecycle  TEXT NOT NULL,
	config     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS agents_lifecycle ON agents(lifecycle);
`

// Open creates or opens the lifecycle store. The schema is created on
// first connection. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if cfg.Path == ":memory:" {
		// Each in-memory connection is an independent database.
		poolSize = 1
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  c,
		logger: logger,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Create registers a new agent as ACTIVE with its configuration
// snapshot. Returns ErrExists when the name is already registered.
func (s *Store) Create(ctx context.Context, name, agentType string, config json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("state store: name is required")
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().Unix()
	err = sqlitex.Execute(conn,
		`INSERT INTO agents (name, type, lifecycle, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{name, agentType, string(Active), string(config), now, now},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return fmt.Errorf("state store: agent %q: %w", name, ErrExists)
		}
		return fmt.Errorf("state store: creating %q: %w", name, err)
	}

	s.logger.Info("agent registered", "agent", name, "type", agentType)
	return nil
}

// UpdateLifecycle transitions an agent to the given lifecycle state.
// Returns ErrNotFound when the agent is not registered.
func (s *Store) UpdateLifecycle(ctx context.Context, name string, lifecycle Lifecycle) error {
	if !lifecycle.Valid() {
		return fmt.Errorf("state store: invalid lifecycle %q", lifecycle)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE agents SET lifecycle = ?, updated_at = ? WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(lifecycle), s.clock.Now().Unix(), name},
		})
	if err != nil {
		return fmt.Errorf("state store: updating %q: %w", name, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("state store: agent %q: %w", name, ErrNotFound)
	}

	s.logger.Info("agent lifecycle updated", "agent", name, "lifecycle", lifecycle)
	return nil
}

// Get returns one agent's record. Returns ErrNotFound when the agent
// is not registered.
func (s *Store) Get(ctx context.Context, name string) (Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Record{}, err
	}
	defer s.pool.Put(conn)

	var record Record
	found := false
	err = sqlitex.Execute(conn,
		`SELECT name, type, lifecycle, config, created_at, updated_at
		 FROM agents WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = recordFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Record{}, fmt.Errorf("state store: reading %q: %w", name, err)
	}
	if !found {
		return Record{}, fmt.Errorf("state store: agent %q: %w", name, ErrNotFound)
	}
	return record, nil
}

// List returns all registered agents, optionally filtered to one
// lifecycle state. Pass the zero value to list everything. Results are
// ordered by name for deterministic iteration.
func (s *Store) List(ctx context.Context, filter Lifecycle) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `SELECT name, type, lifecycle, config, created_at, updated_at
	          FROM agents ORDER BY name`
	var args []any
	if filter != "" {
		query = `SELECT name, type, lifecycle, config, created_at, updated_at
		         FROM agents WHERE lifecycle = ? ORDER BY name`
		args = []any{string(filter)}
	}

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, recordFromRow(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state store: listing agents: %w", err)
	}
	return records, nil
}

// Delete removes an agent's registration entirely. Used only by the
// destructive terminate path. Idempotent: deleting an unregistered
// name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM agents WHERE name = ?`,
		&sqlitex.ExecOptions{Args: []any{name}})
	if err != nil {
		return fmt.Errorf("state store: deleting %q: %w", name, err)
	}
	if conn.Changes() > 0 {
		s.logger.Info("agent deregistered", "agent", name)
	}
	return nil
}

// recordFromRow extracts a Record from the standard six-column SELECT.
func recordFromRow(stmt *sqlite.Stmt) Record {
	return Record{
		Name:      stmt.ColumnText(0),
		Type:      stmt.ColumnText(1),
		Lifecycle: Lifecycle(stmt.ColumnText(2)),
		Config:    json.RawMessage(stmt.ColumnText(3)),
		CreatedAt: time.Unix(stmt.ColumnInt64(4), 0).UTC(),
		UpdatedAt: time.Unix(stmt.ColumnInt64(5), 0).UTC(),
	}
}
