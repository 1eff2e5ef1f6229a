// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentlog provides per-agent process log files with size-based
// rotation. Each agent gets exactly one append-mode writer, so there is
// no cross-agent write contention; the supervisor copies both stdout
// and stderr of the agent process into it.
//
// When the file reaches the rotation threshold it is renamed with a
// timestamp suffix and a fresh file is opened. Rotated files are
// zstd-compressed in the background and the uncompressed original is
// removed once compression succeeds.
package agentlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
)

// DefaultMaxSize is the rotation threshold when Config.MaxSize is zero.
const DefaultMaxSize = 8 << 20 // 8 MiB

// rotatedTimeFormat names rotated files. Second resolution is enough:
// a sequence counter disambiguates rotations within the same second.
const rotatedTimeFormat = "20060102-150405"

// Config holds the parameters for opening an agent log writer.
type Config struct {
	// Dir is the directory holding the agent's log files. Created if
	// absent.
	Dir string

	// Name is the agent name; the active log file is "<name>.log".
	Name string

	// MaxSize is the rotation threshold in bytes. Defaults to
	// DefaultMaxSize.
	MaxSize int64

	// DisableCompression keeps rotated files uncompressed. Compression
	// is on by default.
	DisableCompression bool

	// Clock provides rotation timestamps. Required.
	Clock clock.Clock

	// Logger receives rotation and compression diagnostics. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Writer is an append-mode log file with size-based rotation. Safe for
// concurrent use: the supervisor's stdout and stderr tailers share one
// Writer.
type Writer struct {
	dir      string
	name     string
	maxSize  int64
	compress bool
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	file     *os.File
	size     int64
	sequence int
	closed   bool

	// compressions tracks in-flight background compression goroutines
	// so Close can wait for them.
	compressions sync.WaitGroup
}

// New opens (creating if necessary) the agent's active log file in
// append mode.
func New(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("agentlog: Dir is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("agentlog: Name is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("agentlog: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("agentlog: creating log directory: %w", err)
	}

	w := &Writer{
		dir:      cfg.Dir,
		name:     cfg.Name,
		maxSize:  maxSize,
		compress: !cfg.DisableCompression,
		clock:    cfg.Clock,
		logger:   logger,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the path of the active log file.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, w.name+".log")
}

// Write appends p to the active log file, rotating first when the
// write would push the file past the threshold. A single Write is
// never split across two files.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("agentlog: writer for %s is closed", w.name)
	}

	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			// Rotation failure is not a write failure: keep appending
			// to the oversized file and report the problem.
			w.logger.Error("log rotation failed",
				"agent", w.name,
				"error", err,
			)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("agentlog: writing %s: %w", w.name, err)
	}
	return n, nil
}

// Close closes the active file and waits for any background
// compression to finish.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.file.Close()
	w.mu.Unlock()

	w.compressions.Wait()
	if err != nil {
		return fmt.Errorf("agentlog: closing %s: %w", w.name, err)
	}
	return nil
}

// open opens the active file in append mode and records its current
// size.
func (w *Writer) open() error {
	file, err := os.OpenFile(w.Path(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("agentlog: opening %s: %w", w.Path(), err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("agentlog: stat %s: %w", w.Path(), err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rotateLocked renames the active file aside and opens a fresh one.
// Must be called with w.mu held.
func (w *Writer) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing active file: %w", err)
	}

	stamp := w.clock.Now().UTC().Format(rotatedTimeFormat)
	w.sequence++
	rotated := filepath.Join(w.dir, fmt.Sprintf("%s-%s.%d.log", w.name, stamp, w.sequence))
	if err := os.Rename(w.Path(), rotated); err != nil {
		// Reopen the original so logging continues either way.
		if openErr := w.open(); openErr != nil {
			return fmt.Errorf("renaming rotated file: %v; reopening active file: %w", err, openErr)
		}
		return fmt.Errorf("renaming rotated file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}

	w.logger.Info("log rotated", "agent", w.name, "rotated", rotated)

	if w.compress {
		w.compressions.Add(1)
		go func() {
			defer w.compressions.Done()
			if err := compressFile(rotated); err != nil {
				w.logger.Error("log compression failed",
					"agent", w.name,
					"file", rotated,
					"error", err,
				)
			}
		}()
	}
	return nil
}

// compressFile writes path+".zst" and removes the original. The
// compressed file is fully written and synced before the original is
// unlinked, so a crash mid-compression loses nothing.
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening rotated file: %w", err)
	}
	defer source.Close()

	destination, err := os.OpenFile(path+".zst", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating compressed file: %w", err)
	}

	encoder, err := zstd.NewWriter(destination)
	if err != nil {
		destination.Close()
		return fmt.Errorf("creating zstd encoder: %w", err)
	}

	if _, err := io.Copy(encoder, source); err != nil {
		encoder.Close()
		destination.Close()
		os.Remove(path + ".zst")
		return fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		destination.Close()
		os.Remove(path + ".zst")
		return fmt.Errorf("finishing zstd stream: %w", err)
	}
	if err := destination.Sync(); err != nil {
		destination.Close()
		return fmt.Errorf("syncing compressed file: %w", err)
	}
	if err := destination.Close(); err != nil {
		return fmt.Errorf("closing compressed file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing uncompressed original: %w", err)
	}
	return nil
}
