// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/cafelua/agentd/lib/procgroup"
)

// CommandSpawner starts the worker as an operating system process in
// its own process group. Stdout is a dedicated pipe read by the relay;
// stderr is passed through.
type CommandSpawner struct {
	// Command is the executable, resolved against PATH.
	Command string

	// Args are passed to Command.
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// Stderr receives the worker's stderr. Nil means os.Stderr.
	Stderr io.Writer

	Logger *slog.Logger
}

// Spawn starts one worker. The context is only used for the start
// itself; the worker outlives it.
func (c *CommandSpawner) Spawn(ctx context.Context) (Process, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	command := exec.Command(c.Command, c.Args...)
	command.Dir = c.Dir
	command.Env = append(os.Environ(), c.Env...)
	command.Stderr = c.Stderr
	if command.Stderr == nil {
		command.Stderr = os.Stderr
	}

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	// A plain os.Pipe instead of StdoutPipe: cmd.Wait closes
	// StdoutPipe's read end, which would cut off the relay before it
	// has drained a dead worker's last lines.
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	command.Stdout = stdoutWrite

	group, err := procgroup.Start(command)
	stdoutWrite.Close()
	if err != nil {
		stdin.Close()
		stdoutRead.Close()
		return nil, nil, fmt.Errorf("starting %s: %w", c.Command, err)
	}

	if c.Logger != nil {
		c.Logger.Debug("worker process started", "command", c.Command, "pid", group.PID())
	}
	return &commandProcess{Process: group, stdin: stdin}, stdoutRead, nil
}

type commandProcess struct {
	*procgroup.Process
	stdin io.WriteCloser
}

func (p *commandProcess) Stdin() io.Writer { return p.stdin }

// Kill closes stdin and kills the whole process group.
func (p *commandProcess) Kill() error {
	p.stdin.Close()
	return p.Process.Kill()
}
