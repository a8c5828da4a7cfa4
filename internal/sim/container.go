// Package sim provides an in-process desktop container.
//
// A Container implements both runtime.Dialer and driver.Launcher, so the
// harness can run its scenarios without OpenFin, Tauri or a WebDriver
// service installed. Pushed events and query acknowledgements are delivered
// on a dispatcher goroutine after a configurable delay, in the order they
// were produced, which reproduces the asynchronous callbacks of a real
// container. Driver sessions evaluate scripts with goja.
package sim

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/process"
	"github.com/Iron-Ham/appharness/internal/runtime"
)

// DefaultDelay is the delivery delay used when Options.Delay is zero.
const DefaultDelay = 5 * time.Millisecond

// Options configures a Container.
type Options struct {
	// Container is config.ContainerOpenFin or config.ContainerTauri.
	Container string
	// UUID identifies the simulated application.
	UUID string
	// Running presets the application as already running.
	Running bool
	// ChildWindows is the number of child windows the application opens
	// once started (default: 1).
	ChildWindows int
	// Delay is the delay before each asynchronous delivery. Negative
	// disables the delay.
	Delay time.Duration
	// Bus receives an ApplicationEvent for every pushed event, as a real
	// runtime connection publishes them. Optional.
	Bus    *event.Bus
	Logger *logging.Logger
}

// Container simulates one application inside a desktop container.
type Container struct {
	opts   Options
	logger *logging.Logger

	mu         sync.Mutex
	running    bool
	windows    int
	queryFail  string
	launchErr  error
	doubleAcks bool
	subs       map[uint64]subscription
	nextSub    uint64
	connects   []ConnectCall
	helpers    []process.Command
	sessions   map[string]*session
	closed     bool

	qmu     sync.Mutex
	pending []delivery
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// ConnectCall records one runtime connection.
type ConnectCall struct {
	Version string
	Args    []string
}

type subscription struct {
	owner   *transport
	uuid    string
	event   string
	handler runtime.EventHandler
}

type delivery struct {
	at time.Time
	fn func()
}

// New creates a container and starts its dispatcher. Call Close to stop it.
func New(opts Options) *Container {
	if opts.Container == "" {
		opts.Container = config.ContainerOpenFin
	}
	if opts.UUID == "" {
		opts.UUID = "openfin-tests"
	}
	if opts.ChildWindows == 0 {
		opts.ChildWindows = 1
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	} else if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	c := &Container{
		opts:     opts,
		logger:   opts.Logger.WithComponent("sim").WithApp(opts.UUID),
		running:  opts.Running,
		subs:     make(map[uint64]subscription),
		sessions: make(map[string]*session),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if opts.Running {
		c.windows = opts.ChildWindows
	}
	go c.dispatch()
	return c
}

// UUID returns the simulated application's identifier.
func (c *Container) UUID() string { return c.opts.UUID }

// Running reports whether the application is running.
func (c *Container) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetRunning starts or exits the application outside of any driver
// session, pushing the matching event when the state changes.
func (c *Container) SetRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRunningLocked(running)
}

// FailQueries makes every query fail with reason. An empty reason restores
// normal answers.
func (c *Container) FailQueries(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryFail = reason
}

// FailLaunch makes every driver launch fail with err. nil restores normal
// launches.
func (c *Container) FailLaunch(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchErr = err
}

// DoubleAcks makes every query acknowledge through both callbacks, success
// first.
func (c *Container) DoubleAcks(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doubleAcks = on
}

// Connects returns the runtime connections made so far.
func (c *Container) Connects() []ConnectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConnectCall, len(c.connects))
	copy(out, c.connects)
	return out
}

// Sessions returns the number of open driver sessions.
func (c *Container) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close stops the dispatcher. Deliveries still queued are dropped.
func (c *Container) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	<-c.stopped
}

func (c *Container) setRunningLocked(running bool) {
	if c.running == running {
		return
	}
	c.running = running
	if running {
		c.logger.Debug("application started")
		c.pushLocked(runtime.EventStarted)
		// Windows open a little after the application reports started.
		n := c.opts.ChildWindows
		c.enqueue(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.running {
				c.windows = n
			}
		})
		return
	}
	c.logger.Debug("application closed")
	c.windows = 0
	c.pushLocked(runtime.EventClosed)
}

func (c *Container) pushLocked(name string) {
	payload, _ := json.Marshal(map[string]string{
		"topic": "application",
		"type":  name,
		"uuid":  c.opts.UUID,
	})
	for _, s := range c.subs {
		if s.uuid != c.opts.UUID || s.event != name {
			continue
		}
		handler := s.handler
		c.enqueue(func() { handler(payload) })
	}
	if bus := c.opts.Bus; bus != nil {
		c.enqueue(func() { bus.Publish(event.NewApplicationEvent(c.opts.UUID, name, payload)) })
	}
}

func (c *Container) processList() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return []map[string]any{}
	}
	return []map[string]any{{
		"uuid":           c.opts.UUID,
		"name":           c.opts.UUID,
		"processId":      4242,
		"cpuUsage":       0,
		"workingSetSize": 64 << 20,
	}}
}

func (c *Container) enqueue(fn func()) {
	c.qmu.Lock()
	c.pending = append(c.pending, delivery{at: time.Now().Add(c.opts.Delay), fn: fn})
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Container) dispatch() {
	defer close(c.stopped)
	for {
		c.qmu.Lock()
		if len(c.pending) == 0 {
			c.qmu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		next := c.pending[0]
		c.qmu.Unlock()

		if wait := time.Until(next.at); wait > 0 {
			select {
			case <-time.After(wait):
			case <-c.done:
				return
			}
		}

		c.qmu.Lock()
		c.pending = c.pending[1:]
		c.qmu.Unlock()
		next.fn()
	}
}

func (c *Container) checkOpen(op string) error {
	if c.closed {
		return errors.Wrapf(errors.ErrClosed, "sim %s", op)
	}
	return nil
}
