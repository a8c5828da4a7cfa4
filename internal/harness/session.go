// Package harness is the session-scoped context of an end-to-end test run.
//
// A [Session] owns everything a test needs for one application under test:
// the asset server that serves its manifest, the driver service, the
// container controller, the runtime connection and one lifecycle tracker
// per application. Nothing is global; two sessions never share state.
// Close releases what Open acquired in reverse order.
package harness

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Iron-Ham/appharness/internal/assets"
	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/driver"
	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/lifecycle"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/manifest"
	"github.com/Iron-Ham/appharness/internal/poll"
	"github.com/Iron-Ham/appharness/internal/process"
	"github.com/Iron-Ham/appharness/internal/runtime"
	"github.com/google/uuid"
)

// Deps are the collaborators of a Session. Nil fields are built from the
// configuration.
type Deps struct {
	// Dialer connects to the container's automation runtime.
	Dialer runtime.Dialer
	// Launcher creates driver sessions. When nil, a WebDriver client for the
	// configured endpoint is used and the driver service is spawned when a
	// driver path is configured.
	Launcher driver.Launcher
	// Loader reads the application manifest.
	Loader manifest.Loader
	// Spawn starts the launch script of a shared container.
	Spawn process.SpawnFunc
	// Bus carries lifecycle and asset events.
	Bus *event.Bus
}

// ProcessInfo is one entry of the container's process list.
type ProcessInfo struct {
	UUID           string  `json:"uuid"`
	Name           string  `json:"name"`
	ProcessID      int     `json:"processId"`
	CPUUsage       float64 `json:"cpuUsage"`
	WorkingSetSize int64   `json:"workingSetSize"`
}

// Session is the context of one test run.
type Session struct {
	id     string
	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus

	assets      *assets.Server
	manifest    *manifest.Manifest
	manifestURL string
	controller  *process.ContainerController
	connector   *runtime.Connector

	mu       sync.Mutex
	trackers map[string]*lifecycle.Tracker
	closers  []namedCloser

	closeOnce sync.Once
	closeErr  error
}

type namedCloser struct {
	name string
	fn   func() error
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *event.Bus { return s.bus }

// Manifest returns the loaded manifest, or nil for containers without one.
func (s *Session) Manifest() *manifest.Manifest { return s.manifest }

// ManifestURL returns the URL the container loads the manifest from.
func (s *Session) ManifestURL() string { return s.manifestURL }

// Assets returns the asset server, or nil for containers without one.
func (s *Session) Assets() *assets.Server { return s.assets }

// Tauri reports whether the session drives a Tauri container.
func (s *Session) Tauri() bool { return s.cfg.Container == config.ContainerTauri }

func (s *Session) onClose(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, namedCloser{name: name, fn: fn})
}

// trace logs every bus event at debug level.
func (s *Session) trace(e event.Event) {
	switch e := e.(type) {
	case event.ApplicationEvent:
		s.logger.Debug("application event", "uuid", e.UUID, "event", e.Name)
	case event.StateChangedEvent:
		s.logger.Debug("state changed", "uuid", e.UUID, "from", e.From, "to", e.To, "cause", e.Cause)
	case event.AssetChangedEvent:
		s.logger.Debug("asset changed", "path", e.Path, "op", e.Op)
	default:
		s.logger.Debug("event", "type", e.EventType())
	}
}

// Close stops the application, detaches the trackers, disconnects the
// runtime, stops the driver service and the asset server, in that order.
// Every step runs; the first error is returned. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.fn(); err != nil {
				s.logger.Warn("failed to release session resource", "resource", c.name, "error", err)
				if s.closeErr == nil {
					s.closeErr = errors.Wrapf(err, "release %s", c.name)
				}
			}
		}
		s.logger.Info("session closed")
	})
	return s.closeErr
}

// StartApplication starts the configured application and returns once the
// controller accepted the request. Use AwaitEventFired or AwaitRunningState
// to wait for the container to confirm it.
func (s *Session) StartApplication(ctx context.Context) error {
	if s.Tauri() {
		return s.controller.Start(ctx, process.StartRequest{})
	}
	t, err := s.tracker(ctx, s.cfg.App.UUID)
	if err != nil {
		return err
	}
	return t.Start(ctx)
}

// StopApplication stops the configured application. It succeeds when
// nothing is running. An application this session did not start is
// adopted first when it runs in a shared container.
func (s *Session) StopApplication(ctx context.Context) error {
	if s.Tauri() {
		return s.controller.Stop(ctx)
	}
	t, err := s.tracker(ctx, s.cfg.App.UUID)
	if err != nil {
		return err
	}
	if t.RunState() == lifecycle.RunRunning && !s.controller.Active() {
		if req := s.startRequest(); req.Shared {
			if err := s.controller.Adopt(ctx, req); err != nil {
				return err
			}
		}
	}
	return t.Stop(ctx)
}

// GetApplicationHandle returns a handle for uuid, connecting to the runtime
// on first use.
func (s *Session) GetApplicationHandle(ctx context.Context, uuid string) (*runtime.Application, error) {
	if s.Tauri() {
		return nil, errors.Wrap(errors.ErrUnsupported, "tauri has no automation runtime")
	}
	h, err := s.connector.Connect(ctx, s.manifest.Runtime.Version)
	if err != nil {
		return nil, err
	}
	return h.Application(uuid), nil
}

// Tracker returns the attached lifecycle tracker of uuid.
func (s *Session) Tracker(ctx context.Context, uuid string) (*lifecycle.Tracker, error) {
	return s.tracker(ctx, uuid)
}

func (s *Session) tracker(ctx context.Context, uuid string) (*lifecycle.Tracker, error) {
	if s.Tauri() {
		return nil, errors.Wrap(errors.ErrUnsupported, "tauri has no lifecycle events")
	}

	s.mu.Lock()
	t, ok := s.trackers[uuid]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	app, err := s.GetApplicationHandle(ctx, uuid)
	if err != nil {
		return nil, err
	}
	t = lifecycle.NewTracker(app, process.Bind(s.controller, s.startRequest), lifecycle.Options{
		Interval: s.cfg.Poll.Interval(),
		Bus:      s.bus,
		Logger:   s.logger,
	})
	if err := t.Attach(ctx); err != nil {
		t.Detach()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.trackers[uuid]; ok {
		t.Detach()
		return existing, nil
	}
	s.trackers[uuid] = t
	return t, nil
}

func (s *Session) startRequest() process.StartRequest {
	version := s.manifest.Runtime.Version
	return process.StartRequest{
		ManifestURL: s.manifestURL,
		Shared:      s.connector.Shared(version) && s.connector.Handle() != nil,
	}
}

func (s *Session) detachTrackers() error {
	s.mu.Lock()
	trackers := s.trackers
	s.trackers = make(map[string]*lifecycle.Tracker)
	s.mu.Unlock()

	for _, t := range trackers {
		t.Detach()
	}
	return nil
}

// AwaitRunningState polls the configured application until its running
// state equals expected or timeout elapses. A zero timeout samples once.
func (s *Session) AwaitRunningState(ctx context.Context, expected bool, timeout time.Duration) (poll.Result[bool], error) {
	t, err := s.tracker(ctx, s.cfg.App.UUID)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	return t.AwaitRunningState(ctx, expected, timeout)
}

// AwaitEventFired polls until the lifecycle event name has fired for the
// configured application or timeout elapses.
func (s *Session) AwaitEventFired(ctx context.Context, name string, timeout time.Duration) (poll.Result[bool], error) {
	t, err := s.tracker(ctx, s.cfg.App.UUID)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	return t.AwaitEventFired(ctx, name, timeout)
}

// ChildWindowsOpen polls until the configured application has at least one
// child window or timeout elapses.
func (s *Session) ChildWindowsOpen(ctx context.Context, timeout time.Duration) (poll.Result[bool], error) {
	app, err := s.GetApplicationHandle(ctx, s.cfg.App.UUID)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	p, err := poll.New(poll.Spec[bool]{
		Name: "child_windows_open",
		Predicate: func(ctx context.Context) (bool, error) {
			n, err := app.ChildWindowCount(ctx)
			return n > 0, err
		},
		Expected: true,
		Interval: s.cfg.Poll.Interval(),
		Timeout:  timeout,
	}, s.logger)
	if err != nil {
		return poll.Result[bool]{}, err
	}
	return p.Run(ctx)
}

// ExecuteScript runs src in the application window of the active driver
// session.
func (s *Session) ExecuteScript(ctx context.Context, src string, args ...any) (json.RawMessage, error) {
	return s.controller.ExecuteScript(ctx, src, args...)
}

// ProcessList returns the container's process list. OpenFin only.
func (s *Session) ProcessList(ctx context.Context) ([]ProcessInfo, error) {
	if s.Tauri() {
		return nil, errors.Wrap(errors.ErrUnsupported, "tauri has no process list")
	}
	// The first call after a window attaches does not report the running
	// applications; only the second result is used.
	var out json.RawMessage
	for range 2 {
		var err error
		if out, err = s.ExecuteScript(ctx, processListScript); err != nil {
			return nil, err
		}
	}
	var procs []ProcessInfo
	if err := json.Unmarshal(out, &procs); err != nil {
		return nil, errors.Wrap(err, "decode process list")
	}
	return procs, nil
}

// IsTauri reports whether the window of the active driver session exposes
// the Tauri API.
func (s *Session) IsTauri(ctx context.Context) (bool, error) {
	out, err := s.ExecuteScript(ctx, "return !!window.__TAURI__")
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(out, &ok); err != nil {
		return false, errors.Wrap(err, "decode script result")
	}
	return ok, nil
}

const processListScript = "return await fin.System.getProcessList()"

// newSessionID returns a fresh session identifier.
func newSessionID() string {
	return uuid.NewString()
}
