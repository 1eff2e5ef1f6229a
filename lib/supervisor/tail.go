// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"io"
	"sync"
)

// tailBufferSize is how much trailing stderr is retained per process
// for crash reports.
const tailBufferSize = 8 << 10

// tailBuffer retains the last tailBufferSize bytes written to it.
// Safe for concurrent use; the stderr tailer writes while the monitor
// reads after exit.
type tailBuffer struct {
	mu      sync.Mutex
	data    []byte
	wrapped bool
	pos     int
}

func newTailBuffer() *tailBuffer {
	return &tailBuffer{data: make([]byte, tailBufferSize)}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	// Only the final window of an oversized write can survive anyway.
	if len(p) > len(b.data) {
		p = p[len(p)-len(b.data):]
	}
	for len(p) > 0 {
		copied := copy(b.data[b.pos:], p)
		p = p[copied:]
		b.pos += copied
		if b.pos == len(b.data) {
			b.pos = 0
			b.wrapped = true
		}
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.wrapped {
		return string(b.data[:b.pos])
	}
	out := make([]byte, 0, len(b.data))
	out = append(out, b.data[b.pos:]...)
	out = append(out, b.data[:b.pos]...)
	return string(out)
}

// tail copies a process output stream into the agent's log writer
// until EOF. Errors are swallowed: a broken pipe just means the
// process died, which the monitor reports separately.
func tail(dst io.Writer, src io.Reader) {
	buffer := make([]byte, 32<<10)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			dst.Write(buffer[:n])
		}
		if err != nil {
			return
		}
	}
}
