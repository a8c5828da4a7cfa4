package harness

import (
	"context"
	"net"
	"net/url"
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
)

// serviceReadyTimeout bounds the wait for a spawned driver service to
// accept connections.
const serviceReadyTimeout = 10 * time.Second

// Open acquires the resources of a session. For OpenFin it serves the
// asset directory and reads the manifest from it; the driver service is
// spawned when a driver path is configured. Whatever was acquired before a
// failure is released again.
func Open(ctx context.Context, cfg *config.Config, deps Deps, logger *logging.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.NewValidationError(config.ValidationErrors(errs).Error())
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	id := newSessionID()
	s := &Session{
		id:       id,
		cfg:      cfg,
		logger:   logger.WithSession(id),
		bus:      deps.Bus,
		trackers: make(map[string]*lifecycle.Tracker),
	}
	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}
	unsubscribe := s.bus.SubscribeFunc(event.Wildcard, s.trace)
	s.onClose("event trace", func() error {
		unsubscribe()
		return nil
	})

	if err := s.open(ctx, deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Info("session opened",
		"container", cfg.Container,
		"manifest_url", s.manifestURL)
	return s, nil
}

func (s *Session) open(ctx context.Context, deps Deps) error {
	cfg := s.cfg

	var planner process.Planner
	if s.Tauri() {
		planner = process.TauriPlanner{Application: cfg.Tauri.ApplicationPath}
	} else {
		if err := s.openAssets(ctx, deps.Loader); err != nil {
			return err
		}
		planner = process.OpenFinPlanner{
			LaunchScript: cfg.OpenFin.LaunchScript,
			DebugPort:    cfg.OpenFin.RemoteDebuggingPort,
			CloseScript:  cfg.OpenFin.CloseScript,
		}
	}

	launcher := deps.Launcher
	if launcher == nil {
		var err error
		if launcher, err = s.openDriverService(ctx); err != nil {
			return err
		}
	}
	s.controller = process.NewController(launcher, planner, s.logger)
	if deps.Spawn != nil {
		s.controller.WithSpawn(deps.Spawn)
	}

	if s.Tauri() {
		s.onClose("application", func() error { return s.controller.Stop(context.Background()) })
		return nil
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = &runtime.LineDialer{Addr: cfg.Runtime.Address, Bus: s.bus, Logger: s.logger}
	}
	s.connector = runtime.NewConnector(dialer, runtime.Options{
		AdapterVersion: cfg.Runtime.AdapterVersion,
		DebugPort:      cfg.OpenFin.RemoteDebuggingPort,
		ConnectTimeout: cfg.Runtime.ConnectTimeout(),
		Logger:         s.logger,
	})
	s.onClose("runtime", s.connector.Disconnect)
	s.onClose("trackers", s.detachTrackers)
	s.onClose("application", func() error { return s.controller.Stop(context.Background()) })
	return nil
}

func (s *Session) openAssets(ctx context.Context, loader manifest.Loader) error {
	cfg := s.cfg
	s.assets = assets.New(assets.Options{
		Root:   cfg.Assets.Root,
		Host:   cfg.Assets.Host,
		Port:   cfg.Assets.Port,
		Bus:    s.bus,
		Logger: s.logger,
	})
	if err := s.assets.Start(); err != nil {
		return err
	}
	s.onClose("assets", s.assets.Stop)

	s.manifestURL = s.assets.URL(cfg.App.ManifestName)
	if loader == nil {
		loader = manifest.NewHTTPLoader(nil, s.logger)
	}
	m, err := loader.Load(ctx, s.manifestURL)
	if err != nil {
		return err
	}
	s.manifest = m

	if m.StartupApp.UUID != "" && m.StartupApp.UUID != cfg.App.UUID {
		s.logger.Warn("manifest startup app differs from the configured uuid",
			"manifest_uuid", m.StartupApp.UUID,
			"configured_uuid", cfg.App.UUID)
	}
	return nil
}

// openDriverService returns a WebDriver client for the configured endpoint,
// spawning the driver service first when its path is configured.
func (s *Session) openDriverService(ctx context.Context) (driver.Launcher, error) {
	cfg := s.cfg
	endpoint, path := cfg.OpenFin.ChromeDriverURL, cfg.OpenFin.ChromeDriverPath
	if s.Tauri() {
		endpoint, path = cfg.Tauri.DriverURL, cfg.Tauri.DriverPath
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, errors.NewValidationError("invalid driver endpoint").WithValue(endpoint)
	}

	if path != "" {
		cmd := process.Command{Path: path}
		if !s.Tauri() {
			cmd.Args = append(cmd.Args, "--port="+u.Port())
			if cfg.OpenFin.ChromeDriverLog != "" {
				cmd.Args = append(cmd.Args, "--log-path="+cfg.OpenFin.ChromeDriverLog)
			}
		}
		svc, err := process.Spawn(ctx, cmd, s.logger)
		if err != nil {
			return nil, err
		}
		s.onClose("driver service", svc.Stop)

		if err := waitForListener(ctx, u.Host, cfg.Poll.Interval()); err != nil {
			return nil, errors.NewLaunchError("driver service did not start listening", err).
				WithBinary(path).
				WithArgs(cmd.Args...)
		}
	}
	return driver.NewRemote(endpoint, s.logger), nil
}

func waitForListener(ctx context.Context, addr string, interval time.Duration) error {
	listening := func(ctx context.Context) (bool, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	}
	ok, err := poll.Await(ctx, listening, true, interval, serviceReadyTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewTimeoutError("wait for "+addr, serviceReadyTimeout).WithValues("listening", "refused")
	}
	return nil
}

// Run opens a session, calls fn with it and closes it again on every path.
// An error from fn takes precedence over one from Close.
func Run(ctx context.Context, cfg *config.Config, deps Deps, logger *logging.Logger, fn func(*Session) error) (err error) {
	s, err := Open(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

// ExpectState turns a poll result into an error when its last value is not
// expected. The *errors.TimeoutError reports both values.
func ExpectState[T comparable](operation string, res poll.Result[T], expected T, timeout time.Duration) error {
	if res.Value == expected {
		return nil
	}
	return errors.NewTimeoutError(operation, timeout).
		WithValues(expected, res.Value)
}
