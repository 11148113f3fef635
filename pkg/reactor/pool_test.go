package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsTaskAndPostsContinuation(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	pool := NewWorkerPool(2, 0)
	defer pool.Shutdown()

	done := make(chan struct{})
	err := pool.Submit(Task{
		Run: func(ctx context.Context) (any, error) {
			return 42, nil
		},
		Continuation: func(result any, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result.(int) != 42 {
				t.Errorf("got %v", result)
			}
			close(done)
		},
		Loop: loop,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestWorkerPoolCapsConcurrency(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	pool := NewWorkerPool(2, 0)
	defer pool.Shutdown()

	var active, maxActive int32
	release := make(chan struct{})
	const taskCount = 6
	completed := make(chan struct{}, taskCount)

	// Submit blocks while both slots are taken, so submit from a separate
	// goroutine; the third Submit waits until release is closed below.
	go func() {
		for i := 0; i < taskCount; i++ {
			err := pool.Submit(Task{
				Run: func(ctx context.Context) (any, error) {
					n := atomic.AddInt32(&active, 1)
					for {
						old := atomic.LoadInt32(&maxActive)
						if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
							break
						}
					}
					<-release
					atomic.AddInt32(&active, -1)
					return nil, nil
				},
				Continuation: func(result any, err error) { completed <- struct{}{} },
				Loop:         loop,
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&maxActive); got > 2 {
		t.Fatalf("concurrency cap violated: %d tasks ran at once", got)
	}
	close(release)

	for i := 0; i < taskCount; i++ {
		select {
		case <-completed:
		case <-time.After(2 * time.Second):
			t.Fatal("task never completed")
		}
	}
}

func TestWorkerPoolSubmitPropagatesRunError(t *testing.T) {
	loop := New(4)
	loop.Start()
	defer loop.Stop()

	pool := NewWorkerPool(1, 0)
	defer pool.Shutdown()

	wantErr := context.DeadlineExceeded
	done := make(chan struct{})
	err := pool.Submit(Task{
		Run: func(ctx context.Context) (any, error) {
			return nil, wantErr
		},
		Continuation: func(result any, err error) {
			if err != wantErr {
				t.Errorf("got err %v, want %v", err, wantErr)
			}
			close(done)
		},
		Loop: loop,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}
}
