// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package agentlog

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestWriter(t *testing.T, maxSize int64, compress bool) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(Config{
		Dir:                dir,
		Name:               "alice",
		MaxSize:            maxSize,
		DisableCompression: !compress,
		Clock:              clock.Fake(testEpoch),
		Logger:             slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func TestWriteAppends(t *testing.T) {
	w, _ := newTestWriter(t, 0, false)

	for _, line := range []string{"one\n", "two\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("log contents = %q", data)
	}
}

func TestRotationAtThreshold(t *testing.T) {
	w, dir := newTestWriter(t, 64, false)

	// First write fits; the second would cross the threshold and must
	// land whole in a fresh file.
	first := strings.Repeat("a", 48) + "\n"
	second := strings.Repeat("b", 48) + "\n"
	if _, err := w.Write([]byte(first)); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := w.Write([]byte(second)); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	active, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("reading active log: %v", err)
	}
	if string(active) != second {
		t.Errorf("active log = %q, want only the second write", active)
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "alice-*.log"))
	if err != nil || len(rotated) != 1 {
		t.Fatalf("rotated files = %v (err %v), want exactly one", rotated, err)
	}
	data, err := os.ReadFile(rotated[0])
	if err != nil {
		t.Fatalf("reading rotated log: %v", err)
	}
	if string(data) != first {
		t.Errorf("rotated log = %q, want the first write", data)
	}
}

func TestRotatedFileIsCompressed(t *testing.T) {
	w, dir := newTestWriter(t, 16, true)

	if _, err := w.Write([]byte(strings.Repeat("x", 16))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("trigger rotation")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Close waits for background compression.
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	compressed, err := filepath.Glob(filepath.Join(dir, "alice-*.log.zst"))
	if err != nil || len(compressed) != 1 {
		t.Fatalf("compressed files = %v (err %v), want exactly one", compressed, err)
	}

	// The uncompressed original is gone.
	plain, _ := filepath.Glob(filepath.Join(dir, "alice-*.log"))
	if len(plain) != 0 {
		t.Errorf("uncompressed originals left behind: %v", plain)
	}

	// And the compressed content round-trips.
	file, err := os.Open(compressed[0])
	if err != nil {
		t.Fatalf("opening compressed log: %v", err)
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, decoder); err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	if out.String() != strings.Repeat("x", 16) {
		t.Errorf("decompressed contents = %q", out.String())
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, _ := newTestWriter(t, 0, false)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("Write succeeded on a closed writer")
	}
}

func TestReopenResumesSize(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Dir:                dir,
		Name:               "alice",
		MaxSize:            32,
		DisableCompression: true,
		Clock:              clock.Fake(testEpoch),
		Logger:             slog.New(slog.DiscardHandler),
	}

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Write([]byte(strings.Repeat("a", 30))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	// A new writer over the same file must count its existing size,
	// so this write rotates instead of overgrowing the file.
	w, err = New(cfg)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer w.Close()
	if _, err := w.Write([]byte(strings.Repeat("b", 10))); err != nil {
		t.Fatalf("Write after reopen: %v", err)
	}

	rotated, _ := filepath.Glob(filepath.Join(dir, "alice-*.log"))
	if len(rotated) != 1 {
		t.Errorf("rotated files = %v, want one after reopen", rotated)
	}
}
