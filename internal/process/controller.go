package process

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Iron-Ham/appharness/internal/driver"
	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/lifecycle"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// Helper is a process started next to the driver session, such as the
// launch script that opens an application in a shared container.
type Helper interface {
	Stop() error
}

// SpawnFunc starts a helper process.
type SpawnFunc func(ctx context.Context, cmd Command, logger *logging.Logger) (Helper, error)

func spawnHelper(ctx context.Context, cmd Command, logger *logging.Logger) (Helper, error) {
	p, err := Spawn(ctx, cmd, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ContainerController owns the driver session and helper process of the
// one application under test. Start and Stop are serialized.
type ContainerController struct {
	launcher driver.Launcher
	planner  Planner
	spawn    SpawnFunc
	logger   *logging.Logger

	mu          sync.Mutex
	session     driver.Session
	helper      Helper
	closeScript string
}

// NewController creates a controller that launches sessions through
// launcher as planned by planner.
func NewController(launcher driver.Launcher, planner Planner, logger *logging.Logger) *ContainerController {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ContainerController{
		launcher: launcher,
		planner:  planner,
		spawn:    spawnHelper,
		logger:   logger.WithComponent("controller"),
	}
}

// Start launches the application. It returns errors.ErrAlreadyRunning while
// a session is active and an *errors.LaunchError when the launch fails.
func (c *ContainerController) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return errors.Wrap(errors.ErrAlreadyRunning, "start application")
	}

	plan, err := c.planner.Plan(req)
	if err != nil {
		return err
	}

	var helper Helper
	if plan.Helper != nil {
		helper, err = c.spawn(ctx, *plan.Helper, c.logger)
		if err != nil {
			return err
		}
	}

	session, err := c.launcher.Launch(ctx, plan.Driver)
	if err != nil {
		if helper != nil {
			_ = helper.Stop()
		}
		if !errors.Is(err, errors.ErrProcessLaunch) {
			err = errors.NewLaunchError("failed to launch driver session", err)
		}
		return err
	}

	c.session = session
	c.helper = helper
	c.closeScript = plan.CloseScript
	c.logger.Info("application launched",
		"session_id", session.ID(),
		"manifest_url", req.ManifestURL,
		"shared", req.Shared)
	return nil
}

// Adopt attaches a driver session to an application that is already
// running in a shared container, so that Stop can close it. It does nothing
// while a session is active and returns errors.ErrUnsupported when the plan
// for req cannot attach.
func (c *ContainerController) Adopt(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	req.Shared = true
	plan, err := c.planner.Plan(req)
	if err != nil {
		return err
	}
	if plan.Driver.Chrome == nil || plan.Driver.Chrome.DebuggerAddress == "" {
		return errors.Wrap(errors.ErrUnsupported, "attach to running application")
	}

	session, err := c.launcher.Launch(ctx, plan.Driver)
	if err != nil {
		if !errors.Is(err, errors.ErrProcessLaunch) {
			err = errors.NewLaunchError("failed to attach driver session", err)
		}
		return err
	}

	c.session = session
	c.closeScript = plan.CloseScript
	c.logger.Info("attached to running application",
		"session_id", session.ID(),
		"debugger_address", plan.Driver.Chrome.DebuggerAddress)
	return nil
}

// Stop asks the application window to close, quits the driver session and
// stops the helper process. Without an active session it does nothing.
func (c *ContainerController) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, helper := c.session, c.helper
	c.session, c.helper = nil, nil
	if session == nil && helper == nil {
		return nil
	}

	var firstErr error
	if session != nil {
		if c.closeScript != "" {
			// The window usually disappears before the driver can answer.
			if _, err := session.ExecuteScript(ctx, c.closeScript); err != nil {
				c.logger.Debug("close script reported an error", "error", err)
			}
		}
		if err := session.Quit(ctx); err != nil {
			firstErr = errors.Wrap(err, "quit driver session")
		}
	}
	if helper != nil {
		if err := helper.Stop(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "stop helper process")
		}
	}

	c.logger.Info("application stopped")
	return firstErr
}

// WithSpawn replaces how helper processes are started.
func (c *ContainerController) WithSpawn(spawn SpawnFunc) *ContainerController {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawn = spawn
	return c
}

// Active reports whether a driver session is open.
func (c *ContainerController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// ExecuteScript runs script in the active driver session.
func (c *ContainerController) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, errors.Wrap(errors.ErrNotRunning, "execute script")
	}
	return session.ExecuteScript(ctx, script, args...)
}

// Bind adapts c to the lifecycle tracker. request is evaluated on every
// start so it can reflect the current manifest and runtime.
func Bind(c *ContainerController, request func() StartRequest) lifecycle.Controller {
	return boundController{c: c, request: request}
}

type boundController struct {
	c       *ContainerController
	request func() StartRequest
}

func (b boundController) Start(ctx context.Context) error { return b.c.Start(ctx, b.request()) }

func (b boundController) Stop(ctx context.Context) error { return b.c.Stop(ctx) }
