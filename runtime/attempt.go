// Package runtime executes backend invocations under a time bound and
// dispatches a target across the configured backends.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/types"
)

// DefaultTimeout bounds a single invocation when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// cancelGrace bounds how long an attempt waits for a cancel hook to return.
const cancelGrace = 5 * time.Second

// AttemptStatus classifies how an attempt ended.
type AttemptStatus int

const (
	// AttemptCompleted means run returned without error.
	AttemptCompleted AttemptStatus = iota
	// AttemptErrored means run returned an error or panicked.
	AttemptErrored
	// AttemptTimedOut means the bound elapsed first.
	AttemptTimedOut
	// AttemptAborted means the parent context was cancelled first.
	AttemptAborted
)

// RunFunc is the work performed by one attempt.
type RunFunc func(ctx context.Context) (*backend.Output, error)

// TimeoutMessage is the output recorded for an attempt that hit its bound.
func TimeoutMessage(label string) string {
	return fmt.Sprintf("timed out run for %s", label)
}

type attemptOutcome struct {
	out *backend.Output
	err error
}

// Attempt runs run under timeout and normalizes the outcome into a
// RunResult labelled with label. It never returns an error and never
// panics on behalf of run. On error or timeout, cancel (if non-nil) is
// invoked once. Success is left for the caller to derive.
//
// run executes on its own goroutine with a context that is cancelled when
// the attempt ends. Work that ignores its context may outlive the attempt.
func Attempt(ctx context.Context, timeout time.Duration, label string, run RunFunc, cancel func()) types.RunResult {
	result, _ := attempt(ctx, timeout, label, run, cancel)
	return result
}

func attempt(ctx context.Context, timeout time.Duration, label string, run RunFunc, cancel func()) (types.RunResult, AttemptStatus) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := run(runCtx)
		done <- attemptOutcome{out: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			invokeCancel(cancel)
			return types.RunResult{Type: label, Output: o.err.Error()}, AttemptErrored
		}
		res := types.RunResult{Type: label}
		if o.out != nil {
			res.Output = o.out.Text
			res.Measurement = o.out.Measurement
		}
		return res, AttemptCompleted

	case <-timer.C:
		stop()
		invokeCancel(cancel)
		return types.RunResult{Type: label, Output: TimeoutMessage(label)}, AttemptTimedOut

	case <-ctx.Done():
		invokeCancel(cancel)
		return types.RunResult{
			Type:   label,
			Output: fmt.Sprintf("aborted run for %s: %v", label, ctx.Err()),
		}, AttemptAborted
	}
}

// invokeCancel calls cancel, recovering panics and waiting at most
// cancelGrace for it to return.
func invokeCancel(cancel func()) {
	if cancel == nil {
		return
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() { _ = recover() }()
		cancel()
	}()
	select {
	case <-finished:
	case <-time.After(cancelGrace):
	}
}
