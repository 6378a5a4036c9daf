// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
)

// newLogger creates the process logger on stderr: a TextHandler when
// stderr is a terminal, a JSONHandler otherwise. Stdout is never used;
// in agentd run it carries the worker protocol.
func newLogger(stderr io.Writer, terminal bool, level string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	options := &slog.HandlerOptions{Level: parsed}
	var handler slog.Handler
	if terminal {
		handler = slog.NewTextHandler(stderr, options)
	} else {
		handler = slog.NewJSONHandler(stderr, options)
	}
	return slog.New(handler), nil
}
