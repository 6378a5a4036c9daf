// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that sleep, poll, or stamp records take a Clock instead of
// calling the time package directly. Production wiring uses Real();
// tests use Fake(), which only moves when Advance is called. The
// worker supervisor's settle delay, the gateway's readiness polling,
// and audit timestamps all go through this interface, so their tests
// run without wall-clock waits:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go supervisor.Send(ctx, message) // sleeps on the fake clock
//	fake.WaitForTimers(1)             // the sleep is registered
//	fake.Advance(300 * time.Millisecond)
package clock
