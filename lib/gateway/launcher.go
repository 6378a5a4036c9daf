// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/cafelua/agentd/lib/procgroup"
)

// LaunchSpec describes one gateway process.
type LaunchSpec struct {
	// Runtime is the node binary.
	Runtime string

	// Args follow Runtime on the command line; the first is the
	// companion script.
	Args []string

	// Env is appended to the inherited environment.
	Env []string
}

// Process is a launched gateway.
type Process interface {
	PID() int
	Kill() error
	Wait() error
}

// Launcher starts gateway processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// CommandLauncher runs the gateway in its own process group with both
// output streams sent to Output. Stdout is never inherited: in
// agentd run it carries the worker protocol.
type CommandLauncher struct {
	// Output receives the gateway's stdout and stderr. Nil means
	// os.Stderr.
	Output io.Writer
}

func (l *CommandLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	output := l.Output
	if output == nil {
		output = os.Stderr
	}
	command := exec.Command(spec.Runtime, spec.Args...)
	command.Env = append(os.Environ(), spec.Env...)
	command.Stdout = output
	command.Stderr = output
	process, err := procgroup.Start(command)
	if err != nil {
		return nil, fmt.Errorf("starting gateway: %w", err)
	}
	return process, nil
}
