// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/cafelua/agentd/lib/version"
)

func (a *app) versionCommand() *command {
	var outputJSON bool
	return &command{
		Name:    "version",
		Summary: "Print build information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(_ context.Context, _ []string) error {
			if outputJSON {
				return writeJSON(a.stdout, version.Current())
			}
			_, err := fmt.Fprintln(a.stdout, "agentd "+version.Full())
			return err
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
