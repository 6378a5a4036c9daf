// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never block forever on a channel. They are the only
// place tests use real wall-clock timeouts; everything else runs on
// clock.Fake.
//
// [WriteExecutable] creates a small shell script that stands in for the
// agent worker, the node runtime, or the gateway binary in process
// tests.
//
// All helpers call t.Fatalf on failure.
package testutil
