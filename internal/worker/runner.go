// Package worker runs detached background tasks such as policy generation.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/compliai/auditplanner/pkg/logger"
)

// Runner starts fire-and-forget tasks and can drain them on shutdown.
// Tasks share a base context that is cancelled only when a shutdown deadline expires.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
	closed atomic.Bool
	logger logger.Logger
}

// NewRunner creates a new task runner
func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: log}
}

// Go runs fn in its own goroutine. A panic in fn is recovered and logged.
// Tasks submitted after Shutdown are dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	if r.closed.Load() {
		r.logger.Warn(r.ctx, "Task rejected, runner is shutting down", map[string]interface{}{
			"task": name,
		})
		return
	}

	r.wg.Add(1)
	r.active.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error(r.ctx, "Background task panicked", fmt.Errorf("%v", rec), map[string]interface{}{
					"task":  name,
					"stack": string(debug.Stack()),
				})
			}
		}()
		fn(r.ctx)
	}()
}

// Active returns the number of running tasks
func (r *Runner) Active() int64 {
	return r.active.Load()
}

// Wait blocks until every task started so far has returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones. When ctx expires
// first, the tasks' context is cancelled and ctx's error is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.closed.Store(true)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn(ctx, "Shutdown deadline reached with tasks still running", map[string]interface{}{
			"active_tasks": r.Active(),
		})
		return ctx.Err()
	}
}
