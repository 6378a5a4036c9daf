// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps the durable trail of agent activity.
//
// The worker's output stream carries many message types. Only a closed
// set of them is audit-worthy: tool invocations, tool results, approval
// requests, usage reports and errors, plus approval decisions that
// agentd derives from outgoing approval_response messages. [Kind]
// enumerates that set; every other message type maps to
// [KindPassthrough] and is never stored.
//
// Stored payloads are not the raw messages. For each kind a fixed
// whitelist of fields is copied out, and free-form text is cut to
// [MaxPayloadBytes] on a UTF-8 boundary with [TruncationMarker]
// appended. Tool arguments larger than the cap are replaced by a
// truncated string rendering of themselves.
//
// The [Store] is a single SQLite table, append-only, reached through a
// one-connection pool so that every insert and query is serialized.
// [Store.Observe] and [Store.RecordDecision] are the best-effort entry
// points used by the stream relay and the worker supervisor: they log
// failures and never return them. [Store.Query], [Store.Stats] and
// [Store.Export] are read paths and return storage errors to the
// caller.
package audit
