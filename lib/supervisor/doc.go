// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the agent worker process.
//
// A [Supervisor] holds at most one live worker. Callers never see the
// process handle; they call [Supervisor.Send], [Supervisor.Restart],
// [Supervisor.CancelStream] and [Supervisor.Shutdown]. One mutex guards
// the worker slot, and Send holds it across the liveness check and the
// write to the worker's stdin, so a write cannot race a teardown.
//
// # Recovery
//
// When Send finds the worker exited, or the write fails, it clears the
// slot, retires the old worker (kills its process group and waits for
// its relay to drain), spawns a replacement with a fresh
// [relay.Relay], sleeps the settle delay, and writes the message once
// more. If the spawn or that second write fails, Send returns the error.
// There is no further retry and no backoff: a worker that cannot be
// revived once is reported to the caller rather than restarted in a
// loop.
//
// Restarts are serialized. A caller that finds the slot empty while
// another caller is restarting waits for that restart and uses its
// worker instead of spawning a second one, and a new relay never
// starts while the previous worker's relay is still draining.
//
// # Auditing
//
// An outgoing approval_response is recorded as an approval_decision
// through the configured [DecisionRecorder] before it is written to the
// worker. Worker output is audited by the relay's sink.
package supervisor
