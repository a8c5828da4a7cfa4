package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a predicate that yields values in order and repeats the
// last one forever.
func sequence[T any](values ...T) (Predicate[T], *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (T, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(values) {
			n = len(values) - 1
		}
		return values[n], nil
	}, &calls
}

func TestSpec_Validate(t *testing.T) {
	pred, _ := sequence(true)

	tests := []struct {
		name    string
		spec    Spec[bool]
		wantErr bool
	}{
		{"valid", Spec[bool]{Predicate: pred, Interval: time.Millisecond, Timeout: time.Second}, false},
		{"zero timeout", Spec[bool]{Predicate: pred, Interval: time.Millisecond}, false},
		{"nil predicate", Spec[bool]{Interval: time.Millisecond}, true},
		{"zero interval", Spec[bool]{Predicate: pred}, true},
		{"negative timeout", Spec[bool]{Predicate: pred, Interval: time.Millisecond, Timeout: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_ZeroTimeoutSamplesOnce(t *testing.T) {
	pred, calls := sequence(false, true)

	p, err := New(Spec[bool]{Predicate: pred, Expected: true, Interval: time.Hour}, nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Value)
	assert.False(t, res.Matched)
	assert.Equal(t, 1, res.Samples)
	assert.EqualValues(t, 1, calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_ZeroTimeoutMatchOnFirstSample(t *testing.T) {
	pred, _ := sequence(true)

	got, err := Await(context.Background(), pred, true, 100*time.Millisecond, 0)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRun_ReachesExpectedBeforeTimeout(t *testing.T) {
	interval := 10 * time.Millisecond
	timeout := 500 * time.Millisecond
	pred, calls := sequence(false, false, false, true)

	p, err := New(Spec[bool]{Name: "running", Predicate: pred, Expected: true, Interval: interval, Timeout: timeout}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Value)
	assert.True(t, res.Matched)
	assert.Equal(t, 4, res.Samples)
	assert.EqualValues(t, 4, calls.Load())
	assert.LessOrEqual(t, res.Elapsed, timeout+interval)
}

func TestRun_NeverReachesExpected(t *testing.T) {
	interval := 20 * time.Millisecond
	timeout := 150 * time.Millisecond
	pred, _ := sequence(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)

	p, err := New(Spec[int]{Predicate: pred, Expected: 100, Interval: interval, Timeout: timeout}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err, "timeouts are not errors")

	assert.False(t, res.Matched)
	assert.Equal(t, res.Samples, res.Value, "last sampled value is returned")
	assert.GreaterOrEqual(t, res.Elapsed, timeout)
	// Generous upper bound for slow CI machines.
	assert.Less(t, res.Elapsed, timeout+interval+100*time.Millisecond)
}

func TestRun_SequentialEvaluation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	pred := func(context.Context) (bool, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return false, nil
	}

	p, err := New(Spec[bool]{Predicate: pred, Expected: true, Interval: time.Millisecond, Timeout: 60 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestRun_CancelDeliversInFlightSample(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	pred := func(context.Context) (string, error) {
		if calls.Add(1) == 2 {
			close(entered)
			<-release
			return "late", nil
		}
		return "early", nil
	}

	p, err := New(Spec[string]{Predicate: pred, Expected: "never", Interval: 5 * time.Millisecond, Timeout: 10 * time.Second}, nil)
	require.NoError(t, err)

	var (
		res    Result[string]
		runErr error
		wg     sync.WaitGroup
	)
	wg.Go(func() {
		res, runErr = p.Run(context.Background())
	})

	<-entered
	p.Cancel()
	p.Cancel()
	close(release)
	wg.Wait()

	require.NoError(t, runErr)
	assert.Equal(t, "late", res.Value, "in-flight value is delivered")
	assert.True(t, res.Canceled)

	// No evaluation starts after cancellation.
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	pred, calls := sequence(false)

	p, err := New(Spec[bool]{Predicate: pred, Expected: true, Interval: time.Millisecond, Timeout: time.Second}, nil)
	require.NoError(t, err)
	p.Cancel()

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Samples)
	assert.True(t, res.Canceled)
	assert.EqualValues(t, 0, calls.Load())
}

func TestRun_ContextCanceled(t *testing.T) {
	pred, _ := sequence(false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p, err := New(Spec[bool]{Predicate: pred, Expected: true, Interval: 5 * time.Millisecond, Timeout: 10 * time.Second}, nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_PredicateErrorEndsPoll(t *testing.T) {
	var calls atomic.Int32
	rpcErr := errors.NewRPCError("isRunning", nil)
	pred := func(context.Context) (bool, error) {
		if calls.Add(1) == 2 {
			return false, rpcErr
		}
		return false, nil
	}

	p, err := New(Spec[bool]{Name: "running", Predicate: pred, Expected: true, Interval: time.Millisecond, Timeout: 10 * time.Second}, nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRPCFailure)
	assert.Equal(t, 2, res.Samples)
	assert.EqualValues(t, 2, calls.Load(), "rpc failures are not retried")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_PredicatePanicRecovered(t *testing.T) {
	pred := func(context.Context) (int, error) {
		panic("container went away")
	}

	p, err := New(Spec[int]{Predicate: pred, Expected: 1, Interval: time.Millisecond, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container went away")
}

func TestRun_OnlyOnce(t *testing.T) {
	pred, _ := sequence(true)
	p, err := New(Spec[bool]{Predicate: pred, Expected: true, Interval: time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestAwait_InvalidSpec(t *testing.T) {
	pred, _ := sequence(true)
	_, err := Await(context.Background(), pred, true, 0, time.Second)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
