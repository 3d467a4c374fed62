// Package resilience guards calls to remote dependencies such as the export
// status API.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a guarded call outlives its deadline.
var ErrTimeout = errors.New("operation timed out")

type outcome[T any] struct {
	value T
	err   error
}

// CallWithTimeout runs fn under a deadline of timeout and returns as soon as
// fn finishes or the deadline passes, whichever is first. A timeout <= 0
// calls fn directly. After a timeout fn keeps running until it notices its
// cancelled context; its result is discarded.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		value, err := fn(callCtx)
		done <- outcome[T]{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		return res.value, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, callCtx.Err()
	}
}
