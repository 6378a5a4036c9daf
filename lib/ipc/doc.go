// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the line protocol spoken with the agent worker
// over its standard input and output.
//
// Each line is one UTF-8 JSON object terminated by a newline. Every
// object carries a "type" field; the remaining fields depend on the
// type. The worker emits text chunks, tool activity, approval
// requests, usage reports, errors and stream-finish markers. agentd
// sends arbitrary caller messages plus two shapes it builds itself:
// approval_response and cancel_stream.
//
// Decoded lines are held as a map of raw field values so that the
// relay can forward the original bytes untouched while the audit store
// extracts only the fields it whitelists.
package ipc
