// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for agentd.
//
// Configuration is read from the file named by --config, or by the
// AGENTD_CONFIG environment variable when the flag is absent (via
// [Load]). With neither, [Default] is used as is. There is no file
// discovery.
//
// Three environment variables inherited from the desktop shell override
// the worker section after the file is loaded:
//
//   - CAFELUA_AGENT_PATH -- worker.command
//   - CAFELUA_AGENT_SCRIPT -- worker.script
//   - CAFELUA_AGENT_RUNNER -- worker.runner, used for .ts scripts
//
// Path fields accept ${HOME}, ${VAR:-default}, and a leading ~/.
// Durations are Go duration strings ("300ms", "2s").
//
// Key exports:
//
//   - [Config] -- master struct with Worker, Audit, Gateway
//   - [Default] -- the configuration used when no file is given
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [WorkerConfig.Argv] -- the worker's argv
//
// This package depends on no other agentd packages.
package config
