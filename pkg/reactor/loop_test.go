package reactor

import (
	"testing"
	"time"
)

func TestPostRunsOnLoopGoroutine(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	done := make(chan struct{})
	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted task to run")
	}
}

func TestPostOrdersTasksFIFO(t *testing.T) {
	loop := New(16)
	loop.Start()
	defer loop.Stop()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() {
			got = append(got, i)
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: got %v", got)
		}
	}
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.Schedule(20*time.Millisecond, func() { fired <- time.Now() })

	select {
	case when := <-fired:
		if when.Sub(start) < 10*time.Millisecond {
			t.Fatalf("fired too early: %v", when.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestScheduleCancelPreventsFiring(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	fired := make(chan struct{}, 1)
	timer := loop.Schedule(20*time.Millisecond, func() { fired <- struct{}{} })
	timer.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

// TestEarlierTimerWakesWaitingLoop schedules a long timer first, then a
// shorter one, and checks the shorter one still fires on time: the loop's
// run select must re-evaluate nextDeadline via the wake channel rather than
// staying parked on the first timer it observed.
func TestEarlierTimerWakesWaitingLoop(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	loop.Schedule(500*time.Millisecond, func() {})
	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.Schedule(15*time.Millisecond, func() { fired <- time.Now() })

	select {
	case when := <-fired:
		if when.Sub(start) > 200*time.Millisecond {
			t.Fatalf("earlier timer fired late: %v", when.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("earlier timer never fired")
	}
}

func TestStopDrainsPendingTasks(t *testing.T) {
	loop := New(4)
	loop.Start()

	ran := make(chan struct{}, 1)
	// Block the loop goroutine briefly so the next Post lands in the queue
	// rather than running immediately, then Stop before it's had a chance
	// to drain on its own.
	block := make(chan struct{})
	loop.Post(func() { <-block })
	loop.Post(func() { ran <- struct{}{} })

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()
	loop.Stop()

	select {
	case <-ran:
	default:
		t.Fatal("pending task was not drained before Stop returned")
	}
}

func TestPostAfterStopDoesNotBlock(t *testing.T) {
	loop := New(4)
	loop.Start()
	loop.Stop()

	done := make(chan struct{})
	go func() {
		loop.Post(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked forever after Stop")
	}
}
