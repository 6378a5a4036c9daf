// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"io"
)

// Process is a running worker.
type Process interface {
	// PID identifies the process in logs.
	PID() int

	// Stdin is the write end of the worker's input pipe.
	Stdin() io.Writer

	// Exited reports, without blocking, whether the process has
	// exited.
	Exited() bool

	// Kill terminates the process and anything it spawned. Killing an
	// exited process is not an error.
	Kill() error

	// Wait blocks until the process has exited and been reaped.
	Wait() error
}

// Spawner starts worker processes. The returned reader is the worker's
// stdout; the supervisor reads it to EOF and then closes it.
type Spawner interface {
	Spawn(ctx context.Context) (Process, io.ReadCloser, error)
}
