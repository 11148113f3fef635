package reactor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// WorkerPool is the bounded pool of spec §5: delegated TLS tasks and
// application callbacks allowed to block briefly run here, independent of
// how many SelectorLoops exist. Scheduled timers do not run here; they fire
// on their SelectorLoop's own timer wheel. A semaphore caps
// concurrency; a token-bucket limiter (golang.org/x/time/rate) sits in
// front of it as an admission throttle distinct from the spec's own
// sliding-window connection limiter (pkg/ratelimit) — this one protects the
// pool itself from a burst of delegated work, not peers from each other.
type WorkerPool struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc

	// mu guards closed so a Submit racing Shutdown either completes its
	// group.Go call before Shutdown observes closed=true, or sees
	// closed=true and never calls group.Go at all — group.Go (which wraps
	// a sync.WaitGroup.Add) must never run concurrently with or after
	// group.Wait returns.
	mu     sync.Mutex
	closed bool
}

// NewWorkerPool builds a pool admitting at most `concurrency` tasks at
// once, additionally throttled to `burstPerSecond` admissions/sec (0
// disables the throttle).
func NewWorkerPool(concurrency int, burstPerSecond int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	p := &WorkerPool{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
	if burstPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(burstPerSecond), burstPerSecond)
	}
	return p
}

// Task carries back-channel info (per spec §9: "submit a task that carries
// back-channel info, e.g. a stream id, and posts its continuation to the
// owning loop") plus the continuation to run once the work completes.
type Task struct {
	// Run performs the (possibly blocking) work off the selector loop.
	Run func(ctx context.Context) (any, error)
	// Continuation is posted back to the target loop with the result.
	// It must not block: it only mutates Connection state and returns.
	Continuation func(result any, err error)
	// Loop is the target SelectorLoop the continuation is posted to.
	Loop *SelectorLoop
}

// Submit admits t for execution, blocking only until a pool slot and
// (if configured) a rate-limit token are available — never while t.Run
// itself executes. The continuation is always posted to t.Loop, even if
// Run panics-free but returns an error.
func (p *WorkerPool) Submit(t Task) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return err
		}
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return context.Canceled
	}
	p.group.Go(func() error {
		defer p.sem.Release(1)
		result, err := t.Run(p.ctx)
		if t.Continuation != nil && t.Loop != nil {
			t.Loop.Post(func() { t.Continuation(result, err) })
		}
		return nil
	})
	p.mu.Unlock()
	return nil
}

// Shutdown cancels any in-flight admission waits and waits for running
// tasks to return. Per spec §5, TLS delegated tasks already running cannot
// be cancelled and are allowed to run to completion. Setting closed under
// mu before calling group.Wait ensures a concurrent Submit either finishes
// its group.Go call first (so Wait legitimately waits on it) or observes
// closed and bails before ever calling group.Go — group.Go must never run
// concurrently with or after group.Wait returns.
func (p *WorkerPool) Shutdown() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	err := p.group.Wait()
	p.cancel()
	return err
}
