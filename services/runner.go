package services

import (
	"context"
	"sync"
	"time"
)

// runner drives a periodic task in its own goroutine until stopped.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start runs fn every interval and whenever wake fires. Calling start twice is a no-op.
func (r *runner) start(ctx context.Context, interval time.Duration, wake <-chan struct{}, fn func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			case <-wake:
				fn(ctx)
			}
		}
	}()
}

// stop cancels the loop and waits for the current iteration to finish.
func (r *runner) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}
