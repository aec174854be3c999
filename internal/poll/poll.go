// Package poll runs a fixed-interval refresh as a cancellable task.
package poll

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Func performs one refresh. It returns false once polling should end, for
// example when the watched record reached a terminal state. An error is
// logged and polling continues on its normal schedule.
type Func func(ctx context.Context) (bool, error)

// Task is a handle to a running poll loop.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs fn every interval until ctx ends, Stop is called, or fn returns
// false. Ticks are serialized: the next interval starts only after the
// previous call returned, so requests never overlap.
func Start(ctx context.Context, interval time.Duration, fn Func, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			cont, err := fn(ctx)
			if err != nil && ctx.Err() == nil {
				log.Warn("poll refresh failed", zap.Error(err))
			}
			if !cont {
				return
			}
			timer.Reset(interval)
		}
	}()
	return t
}

// Stop cancels the loop and waits for an in-flight call to return.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
