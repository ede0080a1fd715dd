package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging through the context logger
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "audit write", func(ctx context.Context) error {
//	    return auditLogger.Log(ctx, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	logger := observability.FromContext(parentCtx).WithField("task", taskName)

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Recovered panic in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		// Caller decides whether this is critical; here it is only logged.
		logger.WithError(err).Warn("Background task failed")
	}
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and context support.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Tracker runs side effects that must outlive the request that started
// them, such as audit writes, and lets shutdown wait for them to drain.
// Tasks keep the values of the parent context but not its cancellation.
type Tracker struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTracker creates a tracker whose tasks each get timeout. Zero means
// five seconds.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Tracker{timeout: timeout}
}

// Go starts fn in the background.
func (t *Tracker) Go(parentCtx context.Context, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run(context.WithoutCancel(parentCtx), t.timeout, taskName, fn)
	}()
}

// Wait blocks until every started task has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Drain waits for outstanding tasks or until ctx is done. It is shaped as a
// shutdown hook.
func (t *Tracker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
