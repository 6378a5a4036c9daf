// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cafelua/agentd/lib/gateway"
)

type gatewayStatusReport struct {
	Port      int    `json:"port"`
	Running   bool   `json:"running"`
	Companion string `json:"companion"`
	Installed bool   `json:"installed"`
}

func (a *app) gatewayCommand() *command {
	return &command{
		Name:        "gateway",
		Summary:     "Inspect the OpenClaw gateway",
		Subcommands: []*command{a.gatewayStatusCommand()},
	}
}

func (a *app) gatewayStatusCommand() *command {
	var outputJSON bool
	return &command{
		Name:    "status",
		Summary: "Report whether the gateway answers on its port",
		Usage:   "agentd gateway status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.newFlagSet("status")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON (the default when stdout is not a terminal)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, logger, err := a.setup()
			if err != nil {
				return err
			}
			supervisor, err := a.newGateway(cfg, logger)
			if err != nil {
				return err
			}

			companion := gateway.CompanionPath(cfg.Gateway.InstallDir)
			report := gatewayStatusReport{
				Port:      supervisor.Port(),
				Running:   supervisor.Probe(ctx),
				Companion: companion,
				Installed: fileExists(companion),
			}
			if outputJSON || !a.stdoutTerminal {
				return writeJSON(a.stdout, report)
			}
			state := "not running"
			if report.Running {
				state = "running"
			}
			fmt.Fprintf(a.stdout, "gateway on 127.0.0.1:%d: %s\n", report.Port, state)
			if !report.Installed {
				fmt.Fprintf(a.stdout, "companion not installed at %s. %s\n", companion, gateway.SetupHint)
			}
			return nil
		},
	}
}
