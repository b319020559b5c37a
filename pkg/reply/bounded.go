package reply

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is returned by Bounded when the call did not finish in time.
var ErrDeadline = errors.New("call exceeded deadline")

// Bounded runs fn with a context limited to limit and returns no later than
// the deadline even if fn ignores its context. A late result is discarded.
func Bounded[T any](ctx context.Context, limit time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if limit <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrDeadline, limit, out.err)
		}
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrDeadline, limit)
		}
		return zero, ctx.Err()
	}
}
