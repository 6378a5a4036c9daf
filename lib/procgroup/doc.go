// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procgroup runs child processes in their own process group.
//
// The agent worker and the gateway are both node programs that start
// helpers of their own. Killing only the direct child leaves those
// helpers running and, worse, holding the child's stdout open, so a
// reader waiting for EOF never finishes. [Start] puts the child in a
// new process group (Setpgid) and [Process.Kill] signals the whole
// group.
//
// Start also waits for the child in a background goroutine, which
// gives callers a non-blocking liveness check through [Process.Exited].
// That wait does not reap: the exited leader stays a zombie until
// [Process.Wait], so its PID cannot be handed to another process and a
// Kill issued in between still targets this group and no other.
package procgroup
