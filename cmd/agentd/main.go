// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// agentd supervises the Cafelua agent worker, relays its output, and
// keeps an audit trail of tool activity.
//
//	agentd run                       # supervise the worker over stdin/stdout
//	agentd audit query --request-id req-1
//	agentd audit stats
//	agentd audit export --format cbor --compression zstd --output audit.cbor.zst
//	agentd gateway status
//	agentd version
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/cafelua/agentd/lib/clock"
	"github.com/cafelua/agentd/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdin:          os.Stdin,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		stdoutTerminal: term.IsTerminal(int(os.Stdout.Fd())),
		stderrTerminal: term.IsTerminal(int(os.Stderr.Fd())),
		clock:          clock.Real(),
	}
	return a.root().Execute(ctx, os.Args[1:], os.Stderr)
}

// app carries the process streams and the options shared by every
// command.
type app struct {
	stdin          io.Reader
	stdout         io.Writer
	stderr         io.Writer
	stdoutTerminal bool
	stderrTerminal bool
	clock          clock.Clock

	configPath string
	logLevel   string
}

func (a *app) root() *command {
	return &command{
		Name:    "agentd",
		Summary: "Agent process supervisor and audit pipeline",
		Description: `agentd runs the agent worker as a child process, relays its
line-delimited JSON output, restarts it once when a write fails, and
records tool activity in a local SQLite audit log.`,
		Subcommands: []*command{
			a.runCommand(),
			a.auditCommand(),
			a.gatewayCommand(),
			a.versionCommand(),
		},
	}
}
