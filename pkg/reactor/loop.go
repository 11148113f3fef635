// Package reactor implements gumdrop's selector loop (spec §4.C): a single
// goroutine that drains a task queue populated by Channel readiness events,
// worker-pool continuations and timer firings, serializing every mutation
// of the Connections it owns. The channel-backed event loop shape is
// grounded on the teacher corpus's own docker-compose/eventloop.ChanLoop
// ("allocate whole OS thread, so nothing can get scheduled over eventloop");
// gumdrop generalizes a single fixed channel of one Event type into an
// arbitrary task queue plus a per-loop timer wheel, because the reactor
// must also dispatch scheduled work (spec §4.C(b), §9).
package reactor

import (
	"sync"
	"time"
)

// SelectorLoop is the reactor thread described in spec §3/§4.C: the
// exclusive owner of every Channel registered with it. All Channel
// interest-flag mutation and Connection state mutation happens only on
// this goroutine; everything else communicates with it by posting tasks.
type SelectorLoop struct {
	tasks  chan func()
	timers *timerWheel
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}

	// wake is signalled to wake the run loop's select when a new timer is
	// scheduled with an earlier deadline than whatever it was last waiting
	// on; it is never read outside the loop goroutine.
	wake chan struct{}
}

// New builds a SelectorLoop with a task queue of the given buffer depth.
// Callers run it with Start and stop it with Stop; one loop serves one
// "reactor thread" worth of Channels per spec §3 ("process-wide set of
// reactor threads, 1..N, configurable; default 1 per listener group").
func New(queueDepth int) *SelectorLoop {
	if queueDepth < 1 {
		queueDepth = 256
	}
	return &SelectorLoop{
		tasks:   make(chan func(), queueDepth),
		timers:  newTimerWheel(),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the loop's run goroutine. Safe to call exactly once.
func (l *SelectorLoop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including the loop goroutine itself (fn then runs on the next
// iteration, never reentrantly). Blocks only if the queue is momentarily
// full, which bounds how far a producer can outrun the loop.
func (l *SelectorLoop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.stopCh:
	}
}

// Schedule registers fn to run once, after d, on this loop's goroutine
// (spec §4.C's timer wheel: auth lockouts, keepalive pings, stream
// timeouts). The returned Timer can be cancelled before it fires.
func (l *SelectorLoop) Schedule(d time.Duration, fn func()) *Timer {
	result := make(chan *Timer, 1)
	l.Post(func() {
		t := l.timers.schedule(d, fn)
		result <- t
	})
	select {
	case t := <-result:
		l.nudge()
		return t
	case <-l.stopCh:
		return nil
	}
}

// ScheduleLocal registers fn to run once, after d, on this loop's goroutine,
// same as Schedule, but must only be called from code already executing on
// the loop goroutine (a Channel callback, or a closure passed to Post).
// Schedule round-trips through the task queue and blocks waiting for its
// own result; calling it from the loop goroutine itself deadlocks the loop
// permanently, since nothing else is left to drain that queue and produce
// the result. ScheduleLocal instead touches the timer wheel directly.
func (l *SelectorLoop) ScheduleLocal(d time.Duration, fn func()) *Timer {
	t := l.timers.schedule(d, fn)
	l.nudge()
	return t
}

// nudge wakes the run loop's select if it's parked waiting on a timer
// that's no longer the earliest one pending.
func (l *SelectorLoop) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run is the reactor body: spec §4.C's "single thread drains a ready-set
// each iteration". Here the ready-set is simply whatever tasks are queued;
// each suspension point (waiting for a task or the earliest timer, spec
// §4.C(i)) is the select below.
func (l *SelectorLoop) run() {
	defer l.wg.Done()
	defer close(l.stopped)

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if d, ok := l.timers.nextDeadline(); ok {
			wait := time.Until(d)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-l.stopCh:
			if timer != nil {
				timer.Stop()
			}
			l.drainRemaining()
			return
		case fn := <-l.tasks:
			if timer != nil {
				timer.Stop()
			}
			fn()
		case <-timerC:
			l.timers.fireDue(time.Now())
		case <-l.wake:
			if timer != nil {
				timer.Stop()
			}
			// loop around: the timer wheel may have a new earliest deadline
		}
	}
}

// drainRemaining runs any tasks still queued at shutdown time so every
// posted close/continuation gets a chance to run (spec §7: "every
// acquired worker slot or scheduled timer has a matching release").
func (l *SelectorLoop) drainRemaining() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

// Stop signals the loop to exit after draining pending tasks, and waits
// for the goroutine to return.
func (l *SelectorLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
