// Package future turns callback-style remote acknowledgements into values
// a test can wait on.
//
// A [Future] is a single-assignment slot. The container's automation API
// reports the outcome of a call by invoking a success or a failure
// callback, possibly on another goroutine and possibly more than once
// when the container misbehaves. Only the first outcome is kept; later
// ones are logged and dropped.
package future

import (
	"context"
	"sync/atomic"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
)

const (
	statePending int32 = iota
	stateResolved
)

// Future is a single-assignment result of type T. The zero value is not
// usable; create one with New.
type Future[T any] struct {
	name   string
	logger *logging.Logger

	state atomic.Int32
	done  chan struct{}
	value T
	err   error
}

// New returns a pending Future. name identifies the operation in logs.
func New[T any](name string, logger *logging.Logger) *Future[T] {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Future[T]{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Resolve completes the future with v. It reports whether this call won;
// a losing call is logged and has no effect.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err. It reports whether this call won.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	if !f.state.CompareAndSwap(statePending, stateResolved) {
		f.logger.Warn("ignoring late resolution",
			"operation", f.name,
			"error", errors.ErrDoubleResolution,
			"late_error", err)
		return false
	}
	f.value = v
	f.err = err
	close(f.done)
	return true
}

// Done is closed once the future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has an outcome.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future completes or ctx is done. Cancelling ctx
// abandons the wait only; the slot stays pending and a later outcome is
// still recorded.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrapf(ctx.Err(), "awaiting %s", f.name)
	}
}
