// Package poll samples a predicate until it reaches an expected value or a
// deadline passes.
//
// Tests against a desktop container never read state once: pushed events
// and remote queries arrive late and out of step with local actions, so
// every assertion is phrased as "this predicate becomes X within T". A
// [Poller] runs that loop on a background goroutine and races it against a
// timer. It never fails on timeout; the caller gets the last value it saw
// and decides what a mismatch means.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/sourcegraph/conc"
)

// Predicate samples the observed value. It may block on a remote call.
type Predicate[T any] func(ctx context.Context) (T, error)

// Spec describes one poll. It is copied when the Poller is created and
// never changes afterwards.
type Spec[T comparable] struct {
	// Name labels the poll in logs.
	Name      string
	Predicate Predicate[T]
	Expected  T
	// Interval is the pause between two samples. Must be positive.
	Interval time.Duration
	// Timeout bounds the whole poll. Zero means sample once.
	Timeout time.Duration
}

// Validate checks the Spec invariants.
func (s Spec[T]) Validate() error {
	if s.Predicate == nil {
		return errors.NewValidationError("predicate is required").WithField("predicate")
	}
	if s.Interval <= 0 {
		return errors.NewValidationError("interval must be positive").WithField("interval").WithValue(s.Interval)
	}
	if s.Timeout < 0 {
		return errors.NewValidationError("timeout must not be negative").WithField("timeout").WithValue(s.Timeout)
	}
	return nil
}

// Result is the outcome of a poll.
type Result[T comparable] struct {
	// Value is the last sampled value, or the zero value if nothing was sampled.
	Value T
	// Matched reports whether Value equals the expected value.
	Matched bool
	// Samples counts predicate evaluations.
	Samples int
	// Elapsed is the wall time from start to return.
	Elapsed time.Duration
	// Canceled reports that Cancel or the caller's context ended the poll.
	Canceled bool
}

// Poller runs a single poll. A Poller may be Run once.
type Poller[T comparable] struct {
	spec   Spec[T]
	logger *logging.Logger

	started    atomic.Bool
	cancelOnce sync.Once
	canceled   chan struct{}
}

// New validates spec and returns a Poller for it.
func New[T comparable](spec Spec[T], logger *logging.Logger) (*Poller[T], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Poller[T]{
		spec:     spec,
		logger:   logger.WithComponent("poller").With("poll", spec.Name),
		canceled: make(chan struct{}),
	}, nil
}

// Cancel stops the poll before its next evaluation. An evaluation already
// in flight completes and its value is returned. Safe to call at any time,
// from any goroutine, more than once.
func (p *Poller[T]) Cancel() {
	p.cancelOnce.Do(func() { close(p.canceled) })
}

func (p *Poller[T]) isCanceled() bool {
	select {
	case <-p.canceled:
		return true
	default:
		return false
	}
}

// Run polls until the predicate returns the expected value, the timeout
// elapses, Cancel is called or ctx is done. A predicate error ends the poll
// at once and is returned together with the values seen so far. A
// predicate panic is recovered and returned as an error.
//
// ctx is handed to the predicate unchanged: the deadline and Cancel stop
// the loop between samples, they do not abort a sample in progress.
func (p *Poller[T]) Run(ctx context.Context) (Result[T], error) {
	if !p.started.CompareAndSwap(false, true) {
		return Result[T]{}, errors.NewValidationError("poller already ran").WithField("poll").WithValue(p.spec.Name)
	}

	start := time.Now()
	halt := make(chan struct{})
	loopDone := make(chan struct{})

	var (
		res     Result[T]
		loopErr error
		wg      conc.WaitGroup
	)
	wg.Go(func() {
		defer close(loopDone)
		res, loopErr = p.loop(ctx, halt)
	})

	timer := time.NewTimer(p.spec.Timeout)
	defer timer.Stop()

	select {
	case <-loopDone:
	case <-timer.C:
	case <-p.canceled:
	case <-ctx.Done():
	}
	close(halt)

	// Wait for the in-flight sample, if any, so its value is delivered.
	if recovered := wg.WaitAndRecover(); recovered != nil {
		return Result[T]{Elapsed: time.Since(start)}, errors.Wrapf(recovered.AsError(), "poll %s: predicate panicked", p.spec.Name)
	}

	res.Elapsed = time.Since(start)
	res.Canceled = !res.Matched && (p.isCanceled() || ctx.Err() != nil)
	p.logger.Debug("poll finished",
		"matched", res.Matched,
		"samples", res.Samples,
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"canceled", res.Canceled)

	if loopErr != nil {
		return res, errors.Wrapf(loopErr, "poll %s", p.spec.Name)
	}
	return res, nil
}

// loop evaluates the predicate strictly sequentially. The first sample is
// taken immediately unless the poll was canceled before it began; every
// later one waits Interval and is skipped once halt is closed.
func (p *Poller[T]) loop(ctx context.Context, halt <-chan struct{}) (Result[T], error) {
	var res Result[T]

	select {
	case <-p.canceled:
		return res, nil
	case <-ctx.Done():
		return res, ctx.Err()
	default:
	}

	for {
		value, err := p.spec.Predicate(ctx)
		res.Samples++
		if err != nil {
			return res, err
		}
		res.Value = value
		if value == p.spec.Expected {
			res.Matched = true
			return res, nil
		}

		select {
		case <-halt:
			return res, nil
		case <-time.After(p.spec.Interval):
		}
		// The interval and the deadline can expire together; prefer the deadline.
		select {
		case <-halt:
			return res, nil
		default:
		}
	}
}

// Await is a one-shot convenience around New and Run returning the last
// observed value.
func Await[T comparable](ctx context.Context, predicate Predicate[T], expected T, interval, timeout time.Duration) (T, error) {
	p, err := New(Spec[T]{Predicate: predicate, Expected: expected, Interval: interval, Timeout: timeout}, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	res, err := p.Run(ctx)
	return res.Value, err
}
