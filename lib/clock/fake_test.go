// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowMovesOnlyOnAdvance(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	if !fake.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", fake.Now(), epoch)
	}
	fake.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !fake.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", fake.Now(), want)
	}
}

func TestFakeSleepReleasedByAdvance(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(300 * time.Millisecond)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(299 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Sleep returned before its deadline")
	default:
	}
	if fake.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", fake.PendingCount())
	}

	fake.Advance(time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after its deadline passed")
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeAfterNonPositiveIsReady(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	select {
	case got := <-fake.After(0):
		if !got.Equal(epoch) {
			t.Fatalf("After(0) delivered %v, want %v", got, epoch)
		}
	default:
		t.Fatal("After(0) was not immediately ready")
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("After(0) registered a waiter")
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	late := fake.After(2 * time.Second)
	early := fake.After(time.Second)

	fake.Advance(time.Second)
	select {
	case <-early:
	default:
		t.Fatal("1s waiter did not fire after 1s")
	}
	select {
	case <-late:
		t.Fatal("2s waiter fired after 1s")
	default:
	}

	fake.Advance(time.Second)
	select {
	case <-late:
	default:
		t.Fatal("2s waiter did not fire after 2s")
	}
}
