// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(testEpoch)
	if !c.Now().Equal(testEpoch) {
		t.Errorf("Now = %v, want %v", c.Now(), testEpoch)
	}

	c.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Errorf("Now after Advance = %v, want %v", c.Now(), want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(testEpoch)
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(testEpoch.Add(10 * time.Second)) {
			t.Errorf("fire time = %v, want %v", got, testEpoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(testEpoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Minute)
	ticker.Stop()

	c.Advance(5 * time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	c := Fake(testEpoch)
	done := make(chan struct{})

	go func() {
		c.Sleep(30 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Sleep returned before the clock advanced")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestWaitForTimersUnblocksOnRegistration(t *testing.T) {
	c := Fake(testEpoch)
	registered := make(chan struct{})

	go func() {
		c.WaitForTimers(2)
		close(registered)
	}()

	c.After(time.Second)
	select {
	case <-registered:
		t.Fatal("WaitForTimers(2) returned with one pending timer")
	case <-time.After(50 * time.Millisecond):
	}

	c.After(time.Second)
	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForTimers(2) did not return with two pending timers")
	}
}
