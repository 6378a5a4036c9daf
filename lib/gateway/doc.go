// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway keeps the OpenClaw gateway available to the agent
// worker.
//
// The gateway is a sibling node service listening on a loopback port.
// It may already be running, started by another shell or by hand, in
// which case [Supervisor.EnsureRunning] attaches to it and records
// that it is not ours: [Supervisor.Shutdown] then leaves it alone.
// Otherwise the supervisor resolves a node runtime of at least the
// configured major version (PATH first, then the nvm install
// directory), checks that the companion package is installed, spawns
// it in its own process group, and polls the probe endpoint a bounded
// number of times.
//
// Warmup is best-effort: EnsureRunning returns success even if the
// gateway never answered, because the worker can still serve requests
// that do not need it. Only a missing runtime or companion is an
// error, since retrying cannot fix those.
//
// Several agentd processes can start at once. The check-spawn-poll
// section is serialized across processes by an exclusive flock on
// gateway.lock in the install directory, and the probe is repeated
// after the lock is acquired so that only the first one spawns.
package gateway
