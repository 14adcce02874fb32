package utils

import (
	"context"
	"errors"
	"time"

	apperrors "storefront-fulfillment/internal/common/errors"
)

// CallWithTimeout runs fn with a context bounded by d and returns a typed
// timeout error naming operation when the budget runs out.
//
// fn runs on its own goroutine so a callee that ignores ctx still cannot hold
// the caller past the deadline; its late result is discarded. Cancellation of
// the parent context is reported as-is and is not a timeout.
func CallWithTimeout[T any](ctx context.Context, d time.Duration, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, apperrors.TimeoutError(operation).WithCause(r.err)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, apperrors.TimeoutError(operation)
	}
}

// RunWithTimeout is CallWithTimeout for functions with no result value
func RunWithTimeout(ctx context.Context, d time.Duration, operation string, fn func(context.Context) error) error {
	_, err := CallWithTimeout(ctx, d, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// IsTimeout reports whether err is a timeout produced by CallWithTimeout
func IsTimeout(err error) bool {
	return apperrors.IsType(err, apperrors.ErrTypeTimeout)
}
