// Package callctx bounds blocking collaborator calls that take no context.
package callctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Do runs fn and returns its result, or ctx's error if the deadline fires first.
// A zero timeout only honors the parent context. fn keeps running in the
// background after a timeout; its late result is logged and discarded.
func Do[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	return DoLate(ctx, timeout, fn, nil)
}

// DoLate is Do with a hook for results that arrive after the caller gave up.
// late runs on the background goroutine; nil only logs.
func DoLate[T any](ctx context.Context, timeout time.Duration, fn func() (T, error), late func(T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		go func() {
			r := <-done
			log.Warn().Err(r.err).Msg("Call completed after its caller gave up")
			if late != nil {
				late(r.val, r.err)
			}
		}()

		var zero T
		if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return zero, ctx.Err()
	}
}
