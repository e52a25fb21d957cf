package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs a task after the HTTP acknowledgement has been written.
// The contract mirrors serverless "run after response" primitives: the
// process stays alive until the task settles or the ceiling elapses, and a
// scheduled task is never cancelable.
type Scheduler interface {
	Schedule(fn func(ctx context.Context))
}

// TaskRunner is the goroutine-backed Scheduler. Every task gets its own
// context with the configured ceiling; Drain blocks shutdown until in-flight
// tasks settle or the drain timeout elapses.
type TaskRunner struct {
	wg      sync.WaitGroup
	ceiling time.Duration
	logger  *slog.Logger
}

// NewTaskRunner creates a runner whose tasks are bounded by ceiling.
func NewTaskRunner(ceiling time.Duration, logger *slog.Logger) *TaskRunner {
	if ceiling <= 0 {
		ceiling = 90 * time.Second
	}
	return &TaskRunner{
		ceiling: ceiling,
		logger:  logger,
	}
}

// Schedule runs fn on its own goroutine. A panic in fn is caught and logged
// at the task boundary — background failures are never allowed to take the
// process down, since the original caller's connection is already closed.
func (t *TaskRunner) Schedule(fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("background task panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), t.ceiling)
		defer cancel()
		fn(ctx)
	}()
}

// Drain waits for in-flight tasks to finish, up to timeout. Returns true if
// everything settled in time.
func (t *TaskRunner) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		t.logger.Warn("shutdown drain timed out with background tasks in flight")
		return false
	}
}
