package util

import (
	"context"
	"errors"
	"time"
)

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryWithContext calls fn up to maxTries times until it returns nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Context errors from ctx or fn stop the loop immediately.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, maxTries, 0, fn)
}

// RetryErrWithContext is RetryWithContext for functions that only return an error.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, maxTries, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithBackoff behaves like RetryWithContext but sleeps between attempts,
// doubling the delay after each failure. A zero base disables the wait.
func RetryWithBackoff[T any](ctx context.Context, maxTries int, base time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	delay := base
	for i := range maxTries {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) {
			return zero, err
		}
		lastErr = err

		if delay > 0 && i < maxTries-1 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}
	}
	return zero, lastErr
}
