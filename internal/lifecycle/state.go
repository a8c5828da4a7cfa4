package lifecycle

import (
	"sync/atomic"
	"time"
)

// State is the tracker's view of the managed application.
type State int

const (
	// StateUnknown is the state before the initial running-state query.
	StateUnknown State = iota

	// StateNotRunning indicates the application was not running when attached.
	StateNotRunning

	// StateStarting indicates this harness asked the container to start the application.
	StateStarting

	// StateRunning indicates a started event or a running query confirmed the application.
	StateRunning

	// StateStopping indicates this harness asked the container to stop the application.
	StateStopping

	// StateClosed indicates the application closed. A new Start re-enters StateStarting.
	StateClosed
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateNotRunning:
		return "not_running"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// RunState is the coarse answer to "is the application running?".
type RunState int

const (
	// RunUnknown means no signal has settled the question yet.
	RunUnknown RunState = iota
	// RunNotRunning means the application is known not to be running.
	RunNotRunning
	// RunRunning means the application is known to be running.
	RunRunning
)

// String returns a human-readable string for the run state.
func (r RunState) String() string {
	switch r {
	case RunNotRunning:
		return "not_running"
	case RunRunning:
		return "running"
	default:
		return "unknown"
	}
}

// RunState collapses the machine state. Transitional states report
// RunUnknown until a signal settles them.
func (s State) RunState() RunState {
	switch s {
	case StateRunning:
		return RunRunning
	case StateNotRunning, StateClosed:
		return RunNotRunning
	default:
		return RunUnknown
	}
}

// Lifecycle event names pushed by the container.
const (
	EventStarted = "started"
	EventClosed  = "closed"
)

// TrackedEvents lists the events a tracker subscribes to on attach.
func TrackedEvents() []string {
	return []string{EventStarted, EventClosed}
}

// EventFlag records that an event fired. Once set it stays set; a tracker
// replaces its flags when it re-subscribes.
type EventFlag struct {
	name  string
	fired atomic.Bool
	at    atomic.Int64
}

func newEventFlag(name string) *EventFlag {
	return &EventFlag{name: name}
}

// Name returns the event name.
func (f *EventFlag) Name() string { return f.name }

// Fired reports whether the event fired since the flag was created.
func (f *EventFlag) Fired() bool { return f.fired.Load() }

// FiredAt returns when the event first fired, or the zero time.
func (f *EventFlag) FiredAt() time.Time {
	ns := f.at.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// set marks the flag and reports whether this was the first occurrence.
func (f *EventFlag) set() bool {
	if !f.fired.CompareAndSwap(false, true) {
		return false
	}
	f.at.Store(time.Now().UnixNano())
	return true
}

// Transition is one recorded state change.
type Transition struct {
	From  State
	To    State
	Cause string
	At    time.Time
}
