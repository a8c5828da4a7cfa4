package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/future"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// Options configures a Connector.
type Options struct {
	// AdapterVersion is the container version the harness was built against.
	AdapterVersion string
	// DebugPort is passed to a shared container as --remote-debugging-port.
	DebugPort int
	// ConnectTimeout bounds Connect. Zero means no extra bound.
	ConnectTimeout time.Duration
	Logger         *logging.Logger
}

// ShareRuntime reports whether an already-running container can be reused
// for a manifest declaring manifestVersion. Versions must be equal as
// strings; there is no semantic version compatibility.
func ShareRuntime(adapterVersion, manifestVersion string) bool {
	return adapterVersion != "" && adapterVersion == manifestVersion
}

// Connector owns the single runtime connection of a session.
type Connector struct {
	dialer Dialer
	opts   Options
	logger *logging.Logger

	mu     sync.Mutex
	handle *Handle
}

// NewConnector creates a Connector dialing through d.
func NewConnector(d Dialer, opts Options) *Connector {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Connector{
		dialer: d,
		opts:   opts,
		logger: logger.WithComponent("runtime"),
	}
}

// Shared reports whether Connect would share the container for a manifest
// declaring manifestVersion.
func (c *Connector) Shared(manifestVersion string) bool {
	return ShareRuntime(c.opts.AdapterVersion, manifestVersion)
}

// Connect returns the session's Handle, dialing the container on first use.
// Later calls return the existing handle whatever manifestVersion they pass.
func (c *Connector) Connect(ctx context.Context, manifestVersion string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return c.handle, nil
	}

	shared := c.Shared(manifestVersion)
	var args []string
	if shared {
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", c.opts.DebugPort))
	}

	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	transport, err := c.dialer.Connect(ctx, c.opts.AdapterVersion, args)
	if err != nil {
		c.logger.Error("runtime connect failed", "version", c.opts.AdapterVersion, "error", err)
		return nil, errors.Wrapf(err, "connect to runtime %s", c.opts.AdapterVersion)
	}

	c.handle = &Handle{
		transport: transport,
		version:   c.opts.AdapterVersion,
		shared:    shared,
		logger:    c.logger,
	}
	c.logger.Info("runtime connected",
		"version", c.opts.AdapterVersion,
		"manifest_version", manifestVersion,
		"shared", shared)
	return c.handle, nil
}

// Handle returns the active handle, or nil.
func (c *Connector) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Disconnect closes the active handle. It is safe to call more than once.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	c.logger.Info("runtime disconnected")
	return h.close()
}

// Handle is an established runtime connection.
type Handle struct {
	transport Transport
	version   string
	shared    bool
	logger    *logging.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Version returns the container version the handle was dialed for.
func (h *Handle) Version() string { return h.version }

// Shared reports whether the handle reuses a running container.
func (h *Handle) Shared() bool { return h.shared }

// Application returns a lookup handle for uuid. The application need not
// be running.
func (h *Handle) Application(uuid string) *Application {
	return &Application{
		uuid:   uuid,
		handle: h,
		logger: h.logger.WithApp(uuid),
	}
}

func (h *Handle) close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.transport.Close()
	})
	return h.closeErr
}

// Application addresses one application inside a runtime. It owns no
// process state.
type Application struct {
	uuid   string
	handle *Handle
	logger *logging.Logger
}

// UUID returns the application identifier.
func (a *Application) UUID() string { return a.uuid }

// IsRunning asks the container whether the application is running.
func (a *Application) IsRunning(ctx context.Context) (bool, error) {
	return query[bool](ctx, a, MethodIsRunning)
}

// ChildWindowCount returns the number of child windows the application has
// opened.
func (a *Application) ChildWindowCount(ctx context.Context) (int, error) {
	windows, err := query[[]json.RawMessage](ctx, a, MethodGetChildWindows)
	if err != nil {
		return 0, err
	}
	return len(windows), nil
}

// On subscribes fn to eventName and discards the payload.
func (a *Application) On(ctx context.Context, eventName string, fn func()) (func(), error) {
	return a.Subscribe(ctx, eventName, func(json.RawMessage) { fn() })
}

// Subscribe subscribes handler to eventName.
func (a *Application) Subscribe(ctx context.Context, eventName string, handler EventHandler) (func(), error) {
	if a.handle.closed.Load() {
		return nil, errors.Wrapf(errors.ErrClosed, "subscribe to %s", eventName)
	}
	return a.handle.transport.Subscribe(ctx, a.uuid, eventName, handler)
}

func query[T any](ctx context.Context, a *Application, method string) (T, error) {
	if a.handle.closed.Load() {
		var zero T
		return zero, errors.Wrapf(errors.ErrClosed, "query %s", method)
	}
	f := future.FromCallbacks(
		future.Call{Method: method, UUID: a.uuid},
		func(onSuccess, onFailure future.Callback) {
			a.handle.transport.Query(a.uuid, method, onSuccess, onFailure)
		},
		future.AckData[T],
		a.logger,
	)
	return f.Await(ctx)
}
