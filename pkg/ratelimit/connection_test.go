package ratelimit

import (
	"testing"
	"time"
)

func TestConnectionLimiterConcurrencyCap(t *testing.T) {
	l := NewConnectionLimiter(2, 0, 0)

	if err := l.AllowConnection("1.2.3.4"); err != nil {
		t.Fatalf("first connection should be allowed: %v", err)
	}
	l.ConnectionOpened("1.2.3.4")
	if err := l.AllowConnection("1.2.3.4"); err != nil {
		t.Fatalf("second connection should be allowed: %v", err)
	}
	l.ConnectionOpened("1.2.3.4")
	if err := l.AllowConnection("1.2.3.4"); err == nil {
		t.Fatalf("third connection should be rejected (concurrency cap)")
	}

	l.ConnectionClosed("1.2.3.4")
	if err := l.AllowConnection("1.2.3.4"); err != nil {
		t.Fatalf("connection should be allowed again after one closes: %v", err)
	}
}

func TestConnectionLimiterZeroDisablesConcurrencyCap(t *testing.T) {
	l := NewConnectionLimiter(0, 0, 0)
	for i := 0; i < 1000; i++ {
		if err := l.AllowConnection("1.2.3.4"); err != nil {
			t.Fatalf("concurrency cap of 0 must disable the check, failed at i=%d: %v", i, err)
		}
		l.ConnectionOpened("1.2.3.4")
	}
}

func TestConnectionLimiterSlidingWindow(t *testing.T) {
	l := NewConnectionLimiter(0, 2, 50*time.Millisecond)

	if err := l.AllowConnection("5.5.5.5"); err != nil {
		t.Fatalf("first: %v", err)
	}
	l.ConnectionOpened("5.5.5.5")
	if err := l.AllowConnection("5.5.5.5"); err != nil {
		t.Fatalf("second: %v", err)
	}
	l.ConnectionOpened("5.5.5.5")
	if err := l.AllowConnection("5.5.5.5"); err == nil {
		t.Fatalf("third connection within window should be rejected")
	}
}

func TestConnectionLimiterIndependentPerIP(t *testing.T) {
	l := NewConnectionLimiter(1, 0, 0)

	if err := l.AllowConnection("1.1.1.1"); err != nil {
		t.Fatalf("ip1 first: %v", err)
	}
	l.ConnectionOpened("1.1.1.1")
	if err := l.AllowConnection("2.2.2.2"); err != nil {
		t.Fatalf("ip2 should be unaffected by ip1's cap: %v", err)
	}
}

func TestConnectionLimiterSweepRemovesIdleEntries(t *testing.T) {
	l := NewConnectionLimiter(1, 1, 10*time.Millisecond)
	l.ConnectionOpened("9.9.9.9")
	l.ConnectionClosed("9.9.9.9")

	time.Sleep(20 * time.Millisecond)
	l.Sweep()
	if l.ActiveCount() != 0 {
		t.Fatalf("expected idle entry to be swept, active count = %d", l.ActiveCount())
	}
}
