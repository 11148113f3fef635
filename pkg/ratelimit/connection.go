package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gumdrop/gumdrop/pkg/errors"
)

// connEntry is the per-IP state: a sliding window of recent connection
// opens and a live count of connections currently open from that IP.
type connEntry struct {
	active int64 // atomic
	window *Window
}

// ConnectionLimiter enforces, per peer IP, both a hard cap on concurrently
// open connections and a sliding-window cap on the rate of new connections.
// Entries are sharded behind per-entry mutexes inside the map's RWMutex —
// the map itself is only locked to look up or create an entry, never while
// doing the window math (spec §5: "multi-reader, multi-writer with
// per-entry locks").
type ConnectionLimiter struct {
	mu                 sync.RWMutex
	entries            map[string]*connEntry
	maxConcurrentPerIP int64
	maxEvents          int
	window             time.Duration
}

// NewConnectionLimiter builds a limiter. maxConcurrentPerIP of 0 disables
// the concurrency cap (per spec §6); maxEvents of 0 disables the sliding
// window cap.
func NewConnectionLimiter(maxConcurrentPerIP int, maxEvents int, window time.Duration) *ConnectionLimiter {
	return &ConnectionLimiter{
		entries:            make(map[string]*connEntry),
		maxConcurrentPerIP: int64(maxConcurrentPerIP),
		maxEvents:          maxEvents,
		window:             window,
	}
}

func (l *ConnectionLimiter) entryFor(ip string) *connEntry {
	l.mu.RLock()
	e, ok := l.entries[ip]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[ip]; ok {
		return e
	}
	e = &connEntry{window: NewWindow(maxOrOne(l.maxEvents), l.window)}
	l.entries[ip] = e
	return e
}

func maxOrOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// AllowConnection reports whether a new connection from ip is admissible:
// neither the concurrency cap nor the sliding window may be exceeded.
func (l *ConnectionLimiter) AllowConnection(ip string) error {
	e := l.entryFor(ip)

	if l.maxConcurrentPerIP > 0 && atomic.LoadInt64(&e.active) >= l.maxConcurrentPerIP {
		return errors.NewRateLimitError("connection", "too many concurrent connections from "+ip)
	}
	if l.maxEvents > 0 && !e.window.CanAcquire(time.Now()) {
		return errors.NewRateLimitError("connection", "connection rate exceeded for "+ip)
	}
	return nil
}

// ConnectionOpened records that a connection from ip was admitted: it
// increments the active counter and records a sliding-window event. Callers
// must have already checked AllowConnection (these two are separate so the
// reactor can check-then-commit without double-counting retries).
func (l *ConnectionLimiter) ConnectionOpened(ip string) {
	e := l.entryFor(ip)
	atomic.AddInt64(&e.active, 1)
	if l.maxEvents > 0 {
		e.window.TryAcquire(time.Now())
	}
}

// ConnectionClosed decrements the active counter for ip, removing the
// entry entirely once it reaches zero and the window has gone empty.
func (l *ConnectionLimiter) ConnectionClosed(ip string) {
	l.mu.RLock()
	e, ok := l.entries[ip]
	l.mu.RUnlock()
	if !ok {
		return
	}

	remaining := atomic.AddInt64(&e.active, -1)
	if remaining < 0 {
		atomic.StoreInt64(&e.active, 0)
		remaining = 0
	}
	if remaining == 0 && e.window.Empty(time.Now()) {
		l.mu.Lock()
		if cur, ok := l.entries[ip]; ok && cur == e && atomic.LoadInt64(&e.active) == 0 {
			delete(l.entries, ip)
		}
		l.mu.Unlock()
	}
}

// Sweep removes entries with no active connections and an empty sliding
// window. It is safe to call concurrently with AllowConnection/Opened/Closed
// and is intended to be driven by a periodic timer (see pkg/ratelimit/sweep.go).
func (l *ConnectionLimiter) Sweep() {
	now := time.Now()

	l.mu.RLock()
	candidates := make([]string, 0, len(l.entries))
	for ip, e := range l.entries {
		if atomic.LoadInt64(&e.active) == 0 && e.window.Empty(now) {
			candidates = append(candidates, ip)
		}
	}
	l.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	l.mu.Lock()
	for _, ip := range candidates {
		if e, ok := l.entries[ip]; ok && atomic.LoadInt64(&e.active) == 0 && e.window.Empty(now) {
			delete(l.entries, ip)
		}
	}
	l.mu.Unlock()
}

// ActiveCount returns the number of currently tracked IPs, for diagnostics.
func (l *ConnectionLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
