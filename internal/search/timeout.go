package search

import (
	"context"
	"time"
)

// CallWithTimeout runs fn under a deadline d and returns as soon as fn
// finishes or the deadline passes. A result that arrives after the
// deadline is dropped, so a searcher that ignores its context cannot hold
// up the caller. On timeout the error is context.DeadlineExceeded; when
// ctx ends first it is ctx's error.
func CallWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
