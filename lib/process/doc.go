// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for agentd.
// main delegates to run() and reports its error through [Fatal],
// which writes to stderr because the structured logger may not exist
// yet and stdout belongs to the worker protocol.
package process
