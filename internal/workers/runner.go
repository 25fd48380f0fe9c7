// Package workers hosts the background task behind each operation kind.
// Every task runs on its own goroutine, detached from the HTTP request that
// started it, and is guaranteed to reach exactly one terminal state even
// when it panics.
package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/proc"
)

// Processor runs the external cache processor binary. proc.Runner is the
// production implementation; tests substitute fakes.
type Processor interface {
	Run(ctx context.Context, args []string, onEvent func(proc.Event)) ([]byte, error)
}

// Task is the body of one background operation. It observes ctx for
// cancellation and returns nil only on success.
type Task func(ctx context.Context) error

// Runner launches tasks and owns their terminal transitions. Shutdown waits
// for in-flight tasks via Wait.
type Runner struct {
	registry *ops.Registry
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewRunner constructs a Runner bound to the registry.
func NewRunner(registry *ops.Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{registry: registry, logger: logger}
}

// Launch runs task on a new goroutine bound to the operation's context and
// completes the operation when the task returns. A panic is captured and
// recorded as a failure rather than taking the process down. A task that
// returns nil after its context was cancelled still counts as cancelled.
func (r *Runner) Launch(h ops.Handle, task Task) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := r.runTask(h, task)
		if err == nil && h.Ctx.Err() != nil {
			err = h.Ctx.Err()
		}
		r.registry.Complete(h.ID, err == nil, err)
	}()
}

func (r *Runner) runTask(h ops.Handle, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("operation task panicked",
				zap.String("operation_id", h.ID),
				zap.String("kind", string(h.Kind)),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(h.Ctx)
}

// Wait blocks until every launched task has completed or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardProgress adapts processor events into registry progress updates.
func forwardProgress(registry *ops.Registry, id string) func(proc.Event) {
	return func(evt proc.Event) {
		if evt.Event != proc.EventProgress {
			return
		}
		registry.UpdateProgress(id, evt.PercentComplete, evt.Message)
	}
}
