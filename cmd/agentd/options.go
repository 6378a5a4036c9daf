// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/cafelua/agentd/lib/config"
)

// newFlagSet returns a flag set carrying the options every command
// accepts.
func (a *app) newFlagSet(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&a.configPath, "config", "", "configuration file (default $"+config.EnvConfig+")")
	flagSet.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return flagSet
}

// setup loads and validates the configuration and builds the logger.
func (a *app) setup() (*config.Config, *slog.Logger, error) {
	logger, err := newLogger(a.stderr, a.stderrTerminal, a.logLevel)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}
