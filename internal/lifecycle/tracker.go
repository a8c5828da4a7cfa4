package lifecycle

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/poll"
)

// DefaultInterval is the poll interval used when Options.Interval is zero.
const DefaultInterval = 100 * time.Millisecond

// Application is the container-side handle of the managed application.
type Application interface {
	// UUID returns the stable application identifier.
	UUID() string

	// IsRunning queries the container. Failures are *errors.RPCError.
	IsRunning(ctx context.Context) (bool, error)

	// On subscribes fn to a pushed lifecycle event, waiting for the
	// container to accept it until ctx is done. fn may be called on any
	// goroutine. The returned function removes the subscription.
	On(ctx context.Context, eventName string, fn func()) (func(), error)
}

// Controller starts and stops the application's process. Stop must be a
// no-op when nothing is running.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures a Tracker.
type Options struct {
	// Interval is the pause between samples in Await calls.
	Interval time.Duration
	// Bus receives a StateChangedEvent for every transition. Optional.
	Bus *event.Bus
	// Logger is optional.
	Logger *logging.Logger
}

// Tracker owns the observable lifecycle of one application. It fuses three
// signal sources: pushed started/closed events, running-state queries, and
// the start/stop actions issued through it.
type Tracker struct {
	app    Application
	ctrl   Controller
	bus    *event.Bus
	logger *logging.Logger

	interval time.Duration

	// opMu serializes Start and Stop. It is never held while mu is needed
	// by an event callback, so callbacks can advance state during a start.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	attached   bool
	flags      map[string]*EventFlag
	unsubs     []func()
	history    []Transition
	fatal      error
}

// NewTracker creates a detached tracker for app, controlled through ctrl.
func NewTracker(app Application, ctrl Controller, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		app:      app,
		ctrl:     ctrl,
		bus:      opts.Bus,
		logger:   logger.WithComponent("tracker").WithApp(app.UUID()),
		interval: interval,
		flags:    make(map[string]*EventFlag),
	}
}

// Attach (re)subscribes to the lifecycle events with fresh flags and sets
// the initial state from an immediate running-state query. Events from a
// previous subscription are ignored from here on.
func (t *Tracker) Attach(ctx context.Context) error {
	t.mu.Lock()
	t.dropSubscriptionsLocked()
	t.generation++
	gen := t.generation
	t.flags = make(map[string]*EventFlag, len(TrackedEvents()))
	for _, name := range TrackedEvents() {
		t.flags[name] = newEventFlag(name)
	}
	t.attached = true
	t.mu.Unlock()

	for _, name := range TrackedEvents() {
		unsub, err := t.app.On(ctx, name, func() { t.onEvent(gen, name) })
		if err != nil {
			t.Detach()
			return errors.Wrapf(err, "subscribe to %s", name)
		}
		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			unsub()
			return errors.Wrap(errors.ErrNotAttached, "detached while subscribing")
		}
		t.unsubs = append(t.unsubs, unsub)
		t.mu.Unlock()
	}

	running, err := t.app.IsRunning(ctx)
	if err != nil {
		return errors.Wrap(err, "initial running-state query")
	}

	t.mu.Lock()
	var changes []event.StateChangedEvent
	if t.generation == gen {
		initial := StateNotRunning
		if running {
			initial = StateRunning
		}
		// A start or stop already in progress keeps its own state.
		if t.state != StateStarting && t.state != StateStopping {
			changes = t.setStateLocked(initial, "attach")
		}
	}
	t.mu.Unlock()
	t.publish(changes)

	t.logger.Info("tracker attached", "running", running)
	return nil
}

// Detach removes the event subscriptions. It is safe to call more than once.
func (t *Tracker) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropSubscriptionsLocked()
	t.generation++
	t.attached = false
}

func (t *Tracker) dropSubscriptionsLocked() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}

// Start asks the controller to start the application. It is rejected while
// the application is starting, running or stopping. A controller failure is
// fatal: it is returned here and by every later Await call.
func (t *Tracker) Start(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if err := t.checkStartLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	from := t.state
	changes := t.setStateLocked(StateStarting, "start")
	t.mu.Unlock()
	t.publish(changes)

	if err := t.ctrl.Start(ctx); err != nil {
		t.mu.Lock()
		t.fatal = err
		changes = nil
		if t.state == StateStarting {
			changes = t.setStateLocked(from, "start_failed")
		}
		t.mu.Unlock()
		t.publish(changes)

		t.logger.Error("failed to start application", "error", err)
		return err
	}

	t.logger.Info("application start requested")
	return nil
}

func (t *Tracker) checkStartLocked() error {
	if t.fatal != nil {
		return t.fatal
	}
	if !t.attached {
		return errors.ErrNotAttached
	}
	switch t.state {
	case StateStarting, StateRunning:
		return errors.ErrAlreadyRunning
	case StateStopping:
		return errors.Wrapf(errors.ErrInvalidTransition, "start from %s", t.state)
	case StateUnknown:
		return errors.ErrNotAttached
	}
	return nil
}

// Stop asks the controller to stop the application. From Starting or
// Running the tracker enters Stopping; in any other state the controller
// is still called, which is a no-op when nothing is active.
func (t *Tracker) Stop(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	var changes []event.StateChangedEvent
	if t.state == StateStarting || t.state == StateRunning {
		changes = t.setStateLocked(StateStopping, "stop")
	}
	t.mu.Unlock()
	t.publish(changes)

	if err := t.ctrl.Stop(ctx); err != nil {
		t.mu.Lock()
		t.fatal = err
		t.mu.Unlock()

		t.logger.Error("failed to stop application", "error", err)
		return err
	}

	t.logger.Info("application stop requested")
	return nil
}

// onEvent handles a pushed event from subscription generation gen.
func (t *Tracker) onEvent(gen uint64, name string) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		t.logger.Debug("ignoring event from stale subscription", "event", name)
		return
	}
	flag := t.flags[name]
	first := flag != nil && flag.set()

	var changes []event.StateChangedEvent
	switch name {
	case EventStarted:
		switch t.state {
		case StateStarting, StateNotRunning, StateClosed:
			changes = t.setStateLocked(StateRunning, "event:"+name)
		}
	case EventClosed:
		switch t.state {
		case StateStopping, StateRunning:
			changes = t.setStateLocked(StateClosed, "event:"+name)
		}
	}
	t.mu.Unlock()
	t.publish(changes)

	t.logger.Debug("lifecycle event received", "event", name, "first", first)
}

// observe feeds a running-state query result into the state machine.
func (t *Tracker) observe(running bool) {
	t.mu.Lock()
	var changes []event.StateChangedEvent
	switch {
	case running && (t.state == StateStarting || t.state == StateNotRunning || t.state == StateClosed):
		changes = t.setStateLocked(StateRunning, "query:running")
	case !running && t.state == StateStopping:
		changes = t.setStateLocked(StateClosed, "query:not_running")
	}
	t.mu.Unlock()
	t.publish(changes)
}

// setStateLocked records a transition and returns the event to publish
// once mu is released.
func (t *Tracker) setStateLocked(to State, cause string) []event.StateChangedEvent {
	from := t.state
	if from == to {
		return nil
	}
	t.state = to
	t.history = append(t.history, Transition{From: from, To: to, Cause: cause, At: time.Now()})
	t.logger.Info("state changed", "from", from.String(), "to", to.String(), "cause", cause)
	return []event.StateChangedEvent{event.NewStateChangedEvent(t.app.UUID(), from.String(), to.String(), cause)}
}

func (t *Tracker) publish(changes []event.StateChangedEvent) {
	if t.bus == nil {
		return
	}
	for _, e := range changes {
		t.bus.Publish(e)
	}
}

// IsRunning queries the container and feeds the answer into the state
// machine. It fails fast once a controller error has been recorded.
func (t *Tracker) IsRunning(ctx context.Context) (bool, error) {
	if err := t.Err(); err != nil {
		return false, err
	}
	running, err := t.app.IsRunning(ctx)
	if err != nil {
		return false, err
	}
	t.observe(running)
	return running, nil
}

// EventFired reports whether name fired since the last Attach.
func (t *Tracker) EventFired(name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.attached {
		return false, errors.ErrNotAttached
	}
	flag, ok := t.flags[name]
	if !ok {
		return false, errors.NewNotFoundError("event", name)
	}
	return flag.Fired(), nil
}

// Flag returns the current flag for name, or nil.
func (t *Tracker) Flag(name string) *EventFlag {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags[name]
}

// AwaitRunningState polls IsRunning until it returns expected or timeout
// elapses. A query failure or a recorded controller error ends the poll.
func (t *Tracker) AwaitRunningState(ctx context.Context, expected bool, timeout time.Duration) (poll.Result[bool], error) {
	if err := t.Err(); err != nil {
		return poll.Result[bool]{}, err
	}
	p, err := poll.New(poll.Spec[bool]{
		Name:      "running_state",
		Predicate: t.IsRunning,
		Expected:  expected,
		Interval:  t.interval,
		Timeout:   timeout,
	}, t.logger)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	return p.Run(ctx)
}

// AwaitEventFired polls the flag of name until it is set or timeout elapses.
func (t *Tracker) AwaitEventFired(ctx context.Context, name string, timeout time.Duration) (poll.Result[bool], error) {
	if _, err := t.EventFired(name); err != nil {
		return poll.Result[bool]{}, err
	}
	p, err := poll.New(poll.Spec[bool]{
		Name: "event_" + name,
		Predicate: func(context.Context) (bool, error) {
			if err := t.Err(); err != nil {
				return false, err
			}
			return t.EventFired(name)
		},
		Expected: true,
		Interval: t.interval,
		Timeout:  timeout,
	}, t.logger)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	return p.Run(ctx)
}

// State returns the current machine state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RunState returns the coarse running view of the current state.
func (t *Tracker) RunState() RunState {
	return t.State().RunState()
}

// Transitions returns a copy of every recorded transition, oldest first.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

// Err returns the recorded controller failure, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

// UUID returns the tracked application's identifier.
func (t *Tracker) UUID() string {
	return t.app.UUID()
}
