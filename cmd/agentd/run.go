// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/cafelua/agentd/lib/audit"
	"github.com/cafelua/agentd/lib/config"
	"github.com/cafelua/agentd/lib/gateway"
	"github.com/cafelua/agentd/lib/relay"
	"github.com/cafelua/agentd/lib/supervisor"
)

// gatewayStatusMessage is written to stdout once the gateway warmup
// has finished.
type gatewayStatusMessage struct {
	Type string `json:"type"`
	gateway.Status
}

// sendErrorMessage reports a Send that failed after its one restart.
type sendErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (a *app) runCommand() *command {
	return &command{
		Name:    "run",
		Summary: "Supervise the agent worker over stdin and stdout",
		Description: `Start the gateway (unless one is already running) and the agent
worker, then forward each JSON line read from stdin to the worker and
each JSON line the worker prints to stdout. Tool activity is recorded
in the audit log.

On stdin EOF, SIGINT, or SIGTERM the worker is stopped first, then the
gateway if agentd started it.`,
		Usage: "agentd run [flags]",
		Flags: func() *pflag.FlagSet { return a.newFlagSet("run") },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, logger, err := a.setup()
			if err != nil {
				return err
			}
			return a.runSupervisor(ctx, cfg, logger)
		},
	}
}

func (a *app) runSupervisor(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	executable, workerArgs, err := cfg.Worker.Argv()
	if err != nil {
		return err
	}

	store, err := audit.Open(audit.Config{Path: cfg.Audit.Path, Clock: a.clock, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	output := relay.NewLineWriter(a.stdout)

	if cfg.Gateway.Enabled {
		gatewaySupervisor, err := a.newGateway(cfg, logger)
		if err != nil {
			return err
		}
		// Deferred before the worker's Shutdown so it runs after it.
		defer gatewaySupervisor.Shutdown()

		status, err := gatewaySupervisor.EnsureRunning(ctx)
		if err != nil {
			logger.Warn("gateway unavailable", "error", err)
		}
		if err := output.WriteJSON(gatewayStatusMessage{Type: "gateway_status", Status: status}); err != nil {
			return fmt.Errorf("writing gateway status: %w", err)
		}
	}

	workerSupervisor, err := supervisor.New(supervisor.Config{
		Spawner: &supervisor.CommandSpawner{
			Command: executable,
			Args:    workerArgs,
			Dir:     cfg.Worker.Dir,
			Stderr:  a.stderr,
			Logger:  logger,
		},
		Clock:       a.clock,
		Sink:        store,
		Subscriber:  output,
		Decisions:   store,
		SettleDelay: cfg.Worker.SettleDelay,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer workerSupervisor.Shutdown()

	// A worker that fails to start now is spawned by the first Send.
	if err := workerSupervisor.Start(ctx); err != nil {
		logger.Warn("initial worker spawn failed", "error", err)
	}

	lines := readLines(a.stdin, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "reason", context.Cause(ctx))
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Info("stdin closed, shutting down")
				return nil
			}
			if err := workerSupervisor.Send(ctx, line); err != nil {
				logger.Error("send failed", "error", err)
				if err := output.WriteJSON(sendErrorMessage{Type: "send_error", Message: err.Error()}); err != nil {
					return fmt.Errorf("writing send error: %w", err)
				}
			}
		}
	}
}

func (a *app) newGateway(cfg *config.Config, logger *slog.Logger) (*gateway.Supervisor, error) {
	return gateway.New(gateway.Config{
		InstallDir:      cfg.Gateway.InstallDir,
		NVMDir:          cfg.Gateway.NVMDir,
		Port:            cfg.Gateway.Port,
		MinRuntimeMajor: cfg.Gateway.MinRuntimeMajor,
		ProbeTimeout:    cfg.Gateway.ProbeTimeout,
		PollInterval:    cfg.Gateway.PollInterval,
		PollAttempts:    cfg.Gateway.PollAttempts,
		Launcher:        &gateway.CommandLauncher{Output: a.stderr},
		Clock:           a.clock,
		Logger:          logger,
	})
}

// readLines delivers each non-blank stdin line and closes the channel
// at EOF or on a read error.
func readLines(r io.Reader, logger *slog.Logger) <-chan []byte {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadBytes('\n')
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				lines <- trimmed
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("reading stdin", "error", err)
				}
				return
			}
		}
	}()
	return lines
}
