// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay turns a worker's stdout into an ordered stream of
// decoded messages.
//
// One [Relay] serves one worker instance. A reader goroutine splits the
// stream into lines and decodes each as an [ipc.Message]; a single
// dispatcher goroutine hands every decoded message first to the audit
// [Sink] and then to the [Subscriber]. Because there is exactly one
// dispatcher, both consumers see messages in the order the lines were
// read, and the sink always sees a message before the subscriber does.
//
// Blank lines and lines that do not start with '{' are skipped
// silently; the worker's runtime occasionally prints diagnostics to
// stdout. Lines that start with '{' but fail to decode are logged and
// dropped. Neither ends the relay: it runs until the stream reports
// EOF or a read error, then drains its queue and closes [Relay.Done].
// Relays do not restart themselves; the supervisor starts a new one
// for each new worker.
package relay
