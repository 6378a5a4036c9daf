// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cafelua/agentd/lib/ipc"
)

// LineWriter is a Subscriber that writes each message's original bytes
// as one line to an io.Writer. Writes from Deliver and WriteJSON are
// serialized so lines never interleave.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter returns a LineWriter writing to w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Deliver writes message.Raw followed by a newline. Write errors are
// dropped: a subscriber that has gone away must not stall the relay.
func (l *LineWriter) Deliver(message ipc.Message) {
	l.writeLine(message.Raw)
}

// WriteJSON encodes value and writes it as one line.
func (l *LineWriter) WriteJSON(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("relay: encoding line: %w", err)
	}
	return l.writeLine(data)
}

func (l *LineWriter) writeLine(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	_, err := l.w.Write(line)
	return err
}
