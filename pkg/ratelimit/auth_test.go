package ratelimit

import (
	"testing"
	"time"
)

// TestAuthLockoutBackoffS8 is the literal scenario from spec §8 S8:
// maxFailures=3, lockoutMs=100, exponentialBackoff=true. After 3 failures
// the key is locked until t+100. After that lockout expires and 3 more
// failures occur, the second lockout ends at t+200 (round 2 => 100*2^1).
func TestAuthLockoutBackoffS8(t *testing.T) {
	l := NewAuthLimiter(AuthLimiterConfig{
		MaxFailures:        3,
		LockoutTime:        100 * time.Millisecond,
		MaxLockoutTime:     10 * time.Second,
		ExponentialBackoff: true,
	})

	base := time.Now()
	for i := 0; i < 3; i++ {
		l.RecordFailure("user1", base.Add(time.Duration(i)*time.Millisecond))
	}
	if !l.IsLocked("user1", base.Add(50*time.Millisecond)) {
		t.Fatalf("expected locked shortly after 3rd failure")
	}
	if l.IsLocked("user1", base.Add(150*time.Millisecond)) {
		t.Fatalf("expected unlocked after first lockout (100ms) elapses")
	}

	round2Start := base.Add(150 * time.Millisecond)
	for i := 0; i < 3; i++ {
		l.RecordFailure("user1", round2Start.Add(time.Duration(i)*time.Millisecond))
	}
	// Second lockout should last 200ms from the 3rd failure in round 2.
	thirdFailureAt := round2Start.Add(2 * time.Millisecond)
	if !l.IsLocked("user1", thirdFailureAt.Add(150*time.Millisecond)) {
		t.Fatalf("expected still locked 150ms into the 200ms second lockout")
	}
	if l.IsLocked("user1", thirdFailureAt.Add(201*time.Millisecond)) {
		t.Fatalf("expected unlocked after second lockout (200ms) elapses")
	}
}

// TestAuthLimiterMonotonicFromLocked covers spec §8 property 7: from a
// locked state, no RecordFailure/IsLocked sequence can produce any outcome
// other than "still locked" or "transition to unlocked at lockoutUntil".
func TestAuthLimiterMonotonicFromLocked(t *testing.T) {
	l := NewAuthLimiter(AuthLimiterConfig{
		MaxFailures:        2,
		LockoutTime:        50 * time.Millisecond,
		MaxLockoutTime:     time.Second,
		ExponentialBackoff: false,
	})
	base := time.Now()
	l.RecordFailure("k", base)
	l.RecordFailure("k", base.Add(time.Millisecond))

	if !l.IsLocked("k", base.Add(10*time.Millisecond)) {
		t.Fatalf("expected locked")
	}
	// Extra failures while locked must not extend or shorten the deadline
	// in a way observable before it, and must not unlock early.
	l.RecordFailure("k", base.Add(20*time.Millisecond))
	if !l.IsLocked("k", base.Add(40*time.Millisecond)) {
		t.Fatalf("expected still locked before original deadline")
	}
	if l.IsLocked("k", base.Add(60*time.Millisecond)) {
		t.Fatalf("expected unlocked once deadline passes")
	}
}

func TestAuthLimiterRecordSuccessClearsLockout(t *testing.T) {
	l := NewAuthLimiter(AuthLimiterConfig{MaxFailures: 1, LockoutTime: time.Second})
	now := time.Now()
	l.RecordFailure("k", now)
	if !l.IsLocked("k", now) {
		t.Fatalf("expected locked after reaching max failures")
	}
	l.RecordSuccess("k")
	if l.IsLocked("k", now) {
		t.Fatalf("expected unlocked immediately after RecordSuccess")
	}
}

func TestAuthLimiterUnlockRemovesHistory(t *testing.T) {
	l := NewAuthLimiter(AuthLimiterConfig{
		MaxFailures:        1,
		LockoutTime:        10 * time.Millisecond,
		MaxLockoutTime:     time.Second,
		ExponentialBackoff: true,
	})
	now := time.Now()
	l.RecordFailure("k", now)
	l.Unlock("k")
	if l.IsLocked("k", now) {
		t.Fatalf("expected unlocked after administrative unlock")
	}
	// Round history should have reset too: a fresh failure should produce
	// the round-1 (not round-2) lockout duration.
	l.RecordFailure("k", now)
	if l.IsLocked("k", now.Add(11*time.Millisecond)) {
		t.Fatalf("expected round-1 duration (10ms) after unlock reset the round")
	}
}

func TestAuthLimiterDisabledBackoffUsesFixedLockout(t *testing.T) {
	l := NewAuthLimiter(AuthLimiterConfig{
		MaxFailures:        1,
		LockoutTime:        30 * time.Millisecond,
		ExponentialBackoff: false,
	})
	now := time.Now()
	for round := 0; round < 3; round++ {
		t0 := now.Add(time.Duration(round) * 100 * time.Millisecond)
		l.RecordFailure("k", t0)
		if l.IsLocked("k", t0.Add(31*time.Millisecond)) {
			t.Fatalf("round %d: fixed lockout should not extend beyond lockoutMs", round)
		}
	}
}
