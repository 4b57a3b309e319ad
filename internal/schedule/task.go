// Package schedule runs self-rescheduling background tasks.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Func is one iteration. Returning done=true stops the task.
type Func func(ctx context.Context) (done bool)

// Task repeatedly runs a Func with a fixed delay between the end of one
// iteration and the start of the next, so iterations never overlap.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every starts fn after the first interval and keeps running it until fn
// reports done, Cancel is called or ctx ends.
func Every(ctx context.Context, interval time.Duration, fn Func) *Task {
	return start(ctx, interval, false, fn)
}

// Now is Every with an immediate first iteration.
func Now(ctx context.Context, interval time.Duration, fn Func) *Task {
	return start(ctx, interval, true, fn)
}

func start(ctx context.Context, interval time.Duration, immediate bool, fn Func) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		if immediate && fn(ctx) {
			return
		}

		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if fn(ctx) {
				return
			}
			timer.Reset(interval)
		}
	}()

	return t
}

// Cancel stops the task. An iteration already running sees its context
// cancelled and is allowed to finish.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the task has stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task stops or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
