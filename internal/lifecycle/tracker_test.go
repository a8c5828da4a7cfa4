package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval       = 5 * time.Millisecond
	testEventTimeout   = 500 * time.Millisecond
	testRunningTimeout = time.Second
)

// fakeApp implements Application for testing. Every callback ever
// registered is kept in delivered so tests can replay late deliveries.
type fakeApp struct {
	mu        sync.Mutex
	uuid      string
	running   bool
	queryErr  error
	queries   int
	stallSubs bool
	nextID    int
	handlers  map[string]map[int]func()
	delivered map[string][]func()
}

func newFakeApp(running bool) *fakeApp {
	return &fakeApp{
		uuid:      "openfin-tests",
		running:   running,
		handlers:  make(map[string]map[int]func()),
		delivered: make(map[string][]func()),
	}
}

func (a *fakeApp) UUID() string { return a.uuid }

func (a *fakeApp) IsRunning(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries++
	if a.queryErr != nil {
		return false, a.queryErr
	}
	return a.running, nil
}

func (a *fakeApp) On(ctx context.Context, name string, fn func()) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stallSubs {
		a.mu.Unlock()
		<-ctx.Done()
		a.mu.Lock()
		return nil, ctx.Err()
	}

	if a.handlers[name] == nil {
		a.handlers[name] = make(map[int]func())
	}
	a.nextID++
	id := a.nextID
	a.handlers[name][id] = fn
	a.delivered[name] = append(a.delivered[name], fn)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers[name], id)
	}, nil
}

func (a *fakeApp) setRunning(running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = running
}

func (a *fakeApp) setQueryErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queryErr = err
}

// fire delivers name asynchronously to the current subscribers, the way a
// container transport does.
func (a *fakeApp) fire(name string) {
	a.mu.Lock()
	fns := make([]func(), 0, len(a.handlers[name]))
	for _, fn := range a.handlers[name] {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	go func() {
		time.Sleep(2 * time.Millisecond)
		for _, fn := range fns {
			fn()
		}
	}()
}

func (a *fakeApp) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queries
}

func (a *fakeApp) subscriberCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, hs := range a.handlers {
		n += len(hs)
	}
	return n
}

// fakeController flips the fake app's state and pushes the matching event.
type fakeController struct {
	mu       sync.Mutex
	app      *fakeApp
	silent   bool // push no events; Stop leaves the app running
	startErr error
	starts   int
	stops    int
}

func (c *fakeController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.app.setRunning(true)
	if !c.silent {
		c.app.fire(EventStarted)
	}
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.silent {
		return nil
	}
	c.app.setRunning(false)
	c.app.fire(EventClosed)
	return nil
}

func newTestTracker(t *testing.T, running bool) (*Tracker, *fakeApp, *fakeController) {
	t.Helper()
	app := newFakeApp(running)
	ctrl := &fakeController{app: app}
	tr := NewTracker(app, ctrl, Options{Interval: testInterval})
	t.Cleanup(tr.Detach)
	return tr, app, ctrl
}

func states(ts []Transition) []State {
	out := make([]State, len(ts))
	for i, tr := range ts {
		out[i] = tr.To
	}
	return out
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
		run   RunState
	}{
		{StateUnknown, "unknown", RunUnknown},
		{StateNotRunning, "not_running", RunNotRunning},
		{StateStarting, "starting", RunUnknown},
		{StateRunning, "running", RunRunning},
		{StateStopping, "stopping", RunUnknown},
		{StateClosed, "closed", RunNotRunning},
		{State(42), "invalid", RunUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
			assert.Equal(t, tt.run, tt.state.RunState())
		})
	}
}

func TestAttach_InitialState(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		tr, _, _ := newTestTracker(t, false)
		require.NoError(t, tr.Attach(context.Background()))
		assert.Equal(t, StateNotRunning, tr.State())
		assert.Equal(t, RunNotRunning, tr.RunState())
	})

	t.Run("already running", func(t *testing.T) {
		tr, _, _ := newTestTracker(t, true)
		require.NoError(t, tr.Attach(context.Background()))
		assert.Equal(t, StateRunning, tr.State())
	})

	t.Run("query failure", func(t *testing.T) {
		tr, app, _ := newTestTracker(t, false)
		app.setQueryErr(errors.NewRPCError("isRunning", nil))
		err := tr.Attach(context.Background())
		assert.ErrorIs(t, err, errors.ErrRPCFailure)
		assert.Equal(t, StateUnknown, tr.State())
	})

	t.Run("subscription never accepted", func(t *testing.T) {
		tr, app, _ := newTestTracker(t, false)
		app.mu.Lock()
		app.stallSubs = true
		app.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := tr.Attach(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "subscribe to started")
		assert.Equal(t, StateUnknown, tr.State())
		assert.Zero(t, app.queries, "no running-state query after a failed subscribe")
	})
}

func TestScenario_InitiallyClosed(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, false)
	require.NoError(t, tr.Attach(ctx))

	require.NoError(t, tr.Start(ctx))

	started, err := tr.AwaitEventFired(ctx, EventStarted, testEventTimeout)
	require.NoError(t, err)
	assert.True(t, started.Value)

	running, err := tr.AwaitRunningState(ctx, true, testRunningTimeout)
	require.NoError(t, err)
	assert.True(t, running.Value)

	require.NoError(t, tr.Stop(ctx))

	closed, err := tr.AwaitEventFired(ctx, EventClosed, testEventTimeout)
	require.NoError(t, err)
	assert.True(t, closed.Value)

	assert.Equal(t,
		[]State{StateNotRunning, StateStarting, StateRunning, StateStopping, StateClosed},
		states(tr.Transitions()))
}

func TestScenario_InitiallyOpen(t *testing.T) {
	ctx := context.Background()
	tr, _, ctrl := newTestTracker(t, true)
	require.NoError(t, tr.Attach(ctx))

	res, err := tr.AwaitRunningState(ctx, true, 0)
	require.NoError(t, err)
	assert.True(t, res.Value)
	assert.Equal(t, 1, res.Samples, "matches on the very first sample")

	require.NoError(t, tr.Stop(ctx))
	closed, err := tr.AwaitEventFired(ctx, EventClosed, testEventTimeout)
	require.NoError(t, err)
	require.True(t, closed.Value)

	require.NoError(t, tr.Start(ctx))
	started, err := tr.AwaitEventFired(ctx, EventStarted, testEventTimeout)
	require.NoError(t, err)
	require.True(t, started.Value)

	running, err := tr.AwaitRunningState(ctx, true, testRunningTimeout)
	require.NoError(t, err)
	assert.True(t, running.Value)

	assert.Equal(t,
		[]State{StateRunning, StateStopping, StateClosed, StateStarting, StateRunning},
		states(tr.Transitions()))
	assert.Equal(t, 1, ctrl.starts)
	assert.Equal(t, 1, ctrl.stops)
}

func TestStart_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("not attached", func(t *testing.T) {
		tr, _, _ := newTestTracker(t, false)
		assert.ErrorIs(t, tr.Start(ctx), errors.ErrNotAttached)
	})

	t.Run("already running", func(t *testing.T) {
		tr, _, ctrl := newTestTracker(t, true)
		require.NoError(t, tr.Attach(ctx))
		assert.ErrorIs(t, tr.Start(ctx), errors.ErrAlreadyRunning)
		assert.Zero(t, ctrl.starts)
	})

	t.Run("stopping", func(t *testing.T) {
		tr, _, ctrl := newTestTracker(t, true)
		ctrl.silent = true
		require.NoError(t, tr.Attach(ctx))
		require.NoError(t, tr.Stop(ctx))
		require.Equal(t, StateStopping, tr.State())

		assert.ErrorIs(t, tr.Start(ctx), errors.ErrInvalidTransition)
	})
}

func TestStart_ControllerFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	tr, app, ctrl := newTestTracker(t, false)
	launchErr := errors.NewLaunchError("failed to start driver", nil).WithBinary("RunOpenFin.bat")
	ctrl.startErr = launchErr
	require.NoError(t, tr.Attach(ctx))

	err := tr.Start(ctx)
	require.ErrorIs(t, err, errors.ErrProcessLaunch)
	assert.Equal(t, StateNotRunning, tr.State())

	queriesBefore := app.queryCount()
	_, err = tr.AwaitRunningState(ctx, true, testRunningTimeout)
	assert.ErrorIs(t, err, errors.ErrProcessLaunch)
	_, err = tr.AwaitEventFired(ctx, EventStarted, testEventTimeout)
	assert.ErrorIs(t, err, errors.ErrProcessLaunch)
	assert.Equal(t, queriesBefore, app.queryCount(), "no polling after a fatal error")

	assert.ErrorIs(t, tr.Start(ctx), errors.ErrProcessLaunch)
}

func TestAwaitRunningState_RPCFailureEndsPoll(t *testing.T) {
	ctx := context.Background()
	tr, app, _ := newTestTracker(t, false)
	require.NoError(t, tr.Attach(ctx))

	app.setQueryErr(errors.NewRPCError("isRunning", []byte(`{"reason":"gone"}`)))

	start := time.Now()
	res, err := tr.AwaitRunningState(ctx, true, 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRPCFailure)
	assert.Equal(t, 1, res.Samples)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NoError(t, tr.Err(), "query failures are not fatal to the tracker")
}

func TestAwaitRunningState_Timeout(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, false)
	require.NoError(t, tr.Attach(ctx))

	res, err := tr.AwaitRunningState(ctx, true, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.False(t, res.Value)
}

func TestQueryDrivesTransitions(t *testing.T) {
	ctx := context.Background()
	tr, _, ctrl := newTestTracker(t, false)
	ctrl.silent = true
	require.NoError(t, tr.Attach(ctx))

	require.NoError(t, tr.Start(ctx))
	assert.Equal(t, StateStarting, tr.State())

	res, err := tr.AwaitRunningState(ctx, true, testRunningTimeout)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, StateRunning, tr.State())
	assert.Equal(t, "query:running", tr.Transitions()[2].Cause)

	fired, err := tr.EventFired(EventStarted)
	require.NoError(t, err)
	assert.False(t, fired, "running query and started flag are independent")
}

func TestExternalClose(t *testing.T) {
	ctx := context.Background()
	tr, app, _ := newTestTracker(t, true)
	require.NoError(t, tr.Attach(ctx))

	app.setRunning(false)
	app.fire(EventClosed)

	res, err := tr.AwaitEventFired(ctx, EventClosed, testEventTimeout)
	require.NoError(t, err)
	require.True(t, res.Value)
	assert.Equal(t, StateClosed, tr.State())
}

func TestReattach_ResetsFlagsAndIgnoresStaleEvents(t *testing.T) {
	ctx := context.Background()
	tr, app, _ := newTestTracker(t, false)
	require.NoError(t, tr.Attach(ctx))

	require.NoError(t, tr.Start(ctx))
	res, err := tr.AwaitEventFired(ctx, EventStarted, testEventTimeout)
	require.NoError(t, err)
	require.True(t, res.Value)
	oldFlag := tr.Flag(EventStarted)

	require.NoError(t, tr.Attach(ctx))
	assert.Equal(t, 2, app.subscriberCount(), "old subscriptions are dropped")

	fired, err := tr.EventFired(EventStarted)
	require.NoError(t, err)
	assert.False(t, fired, "re-subscription resets flags")
	assert.True(t, oldFlag.Fired(), "old flag never resets")

	// Late delivery through the first subscription.
	app.mu.Lock()
	stale := app.delivered[EventStarted][0]
	app.mu.Unlock()
	stale()

	fired, err = tr.EventFired(EventStarted)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEventFired_Errors(t *testing.T) {
	tr, _, _ := newTestTracker(t, false)

	_, err := tr.EventFired(EventStarted)
	assert.ErrorIs(t, err, errors.ErrNotAttached)

	require.NoError(t, tr.Attach(context.Background()))
	_, err = tr.AwaitEventFired(context.Background(), "minimized", testEventTimeout)
	var notFound *errors.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	tr.Detach()
	tr.Detach()
	_, err = tr.EventFired(EventClosed)
	assert.ErrorIs(t, err, errors.ErrNotAttached)
}

func TestStateChangesPublished(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus(nil)

	var mu sync.Mutex
	var seen []string
	bus.Subscribe(event.TypeStateChanged, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(event.StateChangedEvent).To)
	})

	app := newFakeApp(false)
	tr := NewTracker(app, &fakeController{app: app}, Options{Interval: testInterval, Bus: bus})
	defer tr.Detach()

	require.NoError(t, tr.Attach(ctx))
	require.NoError(t, tr.Start(ctx))
	_, err := tr.AwaitRunningState(ctx, true, testRunningTimeout)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"not_running", "starting", "running"}, seen)
}

func TestEventFlag(t *testing.T) {
	f := newEventFlag(EventStarted)
	assert.Equal(t, EventStarted, f.Name())
	assert.False(t, f.Fired())
	assert.True(t, f.FiredAt().IsZero())

	assert.True(t, f.set())
	assert.False(t, f.set())
	assert.True(t, f.Fired())
	assert.False(t, f.FiredAt().IsZero())
}
