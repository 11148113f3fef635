package ratelimit

import (
	"testing"
	"time"
)

// TestSlidingWindowS7 is the literal scenario from spec §8 S7: N=3, W=50ms,
// acquires at t=0,10,20 succeed; t=25 fails; t=55 succeeds once t=0 ages out.
func TestSlidingWindowS7(t *testing.T) {
	w := NewWindow(3, 50*time.Millisecond)
	base := time.Now()

	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	if !w.TryAcquire(at(0)) {
		t.Fatalf("acquire at t=0 should succeed")
	}
	if !w.TryAcquire(at(10)) {
		t.Fatalf("acquire at t=10 should succeed")
	}
	if !w.TryAcquire(at(20)) {
		t.Fatalf("acquire at t=20 should succeed")
	}
	if w.TryAcquire(at(25)) {
		t.Fatalf("acquire at t=25 should fail (window full)")
	}
	if !w.TryAcquire(at(55)) {
		t.Fatalf("acquire at t=55 should succeed (t=0 entry aged out)")
	}
}

// TestSlidingWindowNeverExceedsNInAnyWindow is a property test for spec §8
// invariant 6: across any acquire sequence, successful acquires within any
// window of length W never exceed N.
func TestSlidingWindowNeverExceedsNInAnyWindow(t *testing.T) {
	const n = 5
	const winMs = 100
	w := NewWindow(n, winMs*time.Millisecond)
	base := time.Now()

	var successes []time.Time
	// Hammer acquires at 7ms spacing across a much longer span than winMs.
	for i := 0; i < 200; i++ {
		now := base.Add(time.Duration(i*7) * time.Millisecond)
		if w.TryAcquire(now) {
			successes = append(successes, now)
		}
	}

	for i := range successes {
		count := 0
		for j := i; j < len(successes); j++ {
			if successes[j].Sub(successes[i]) >= winMs*time.Millisecond {
				break
			}
			count++
		}
		if count > n {
			t.Fatalf("window starting at success %d contains %d acquires, want <= %d", i, count, n)
		}
	}
}

func TestWindowTimeUntilAvailable(t *testing.T) {
	w := NewWindow(1, 100*time.Millisecond)
	base := time.Now()

	if !w.TryAcquire(base) {
		t.Fatalf("first acquire should succeed")
	}
	until := w.TimeUntilAvailable(base.Add(40 * time.Millisecond))
	if until <= 0 || until > 60*time.Millisecond {
		t.Fatalf("expected ~60ms remaining, got %v", until)
	}
	if w.TimeUntilAvailable(base.Add(101*time.Millisecond)) != 0 {
		t.Fatalf("expected window available after full duration elapsed")
	}
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(2, 10*time.Millisecond)
	base := time.Now()
	if !w.Empty(base) {
		t.Fatalf("fresh window should be empty")
	}
	w.TryAcquire(base)
	if w.Empty(base) {
		t.Fatalf("window with a live event should not be empty")
	}
	if !w.Empty(base.Add(20 * time.Millisecond)) {
		t.Fatalf("window should be empty once its only event ages out")
	}
}
