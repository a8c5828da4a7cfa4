package sim

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/driver"
	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/util"
	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// Launch opens a driver session and starts the application unless it is
// already running. It implements driver.Launcher.
func (c *Container) Launch(ctx context.Context, opts driver.Options) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewLaunchError("launch canceled", err)
	}
	if _, err := opts.Capabilities(); err != nil {
		return nil, errors.NewLaunchError("invalid capabilities", err)
	}

	tauri := c.opts.Container == config.ContainerTauri
	if tauri != (opts.Tauri != nil) {
		return nil, errors.NewLaunchError("capabilities do not match the "+c.opts.Container+" container", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("launch"); err != nil {
		return nil, err
	}
	if c.launchErr != nil {
		launchErr := errors.NewLaunchError("simulated launch failure", c.launchErr)
		if opts.Chrome != nil {
			launchErr = launchErr.WithBinary(opts.Chrome.Binary).WithArgs(opts.Chrome.Args...)
		}
		return nil, launchErr
	}

	s := &session{id: uuid.NewString(), c: c}
	if err := s.init(tauri); err != nil {
		return nil, errors.NewLaunchError("initialize script runtime", err)
	}
	c.sessions[s.id] = s
	c.setRunningLocked(true)
	c.logger.Debug("driver session created", "session_id", s.id, "tauri", tauri)
	return s, nil
}

type session struct {
	id string
	c  *Container

	mu     sync.Mutex
	vm     *goja.Runtime
	quit   bool
	listed bool
}

func (s *session) init(tauri bool) error {
	vm := goja.New()
	window := vm.NewObject()
	if err := window.Set("close", func() { s.c.SetRunning(false) }); err != nil {
		return err
	}

	if tauri {
		if err := window.Set("__TAURI__", vm.NewObject()); err != nil {
			return err
		}
	} else {
		system := vm.NewObject()
		// Like the real container, the first list a window asks for is
		// empty.
		getProcessList := func() any {
			if !s.listed {
				s.listed = true
				return []map[string]any{}
			}
			return s.c.processList()
		}
		if err := system.Set("getProcessList", getProcessList); err != nil {
			return err
		}
		fin := vm.NewObject()
		if err := fin.Set("System", system); err != nil {
			return err
		}
		if err := window.Set("fin", fin); err != nil {
			return err
		}
		if err := vm.Set("fin", fin); err != nil {
			return err
		}
	}

	if err := vm.Set("window", window); err != nil {
		return err
	}
	s.vm = vm
	return nil
}

func (s *session) ID() string { return s.id }

// ExecuteScript runs script as the body of an async function, the way
// WebDriver's execute/sync wraps it, and waits for the returned promise.
func (s *session) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit {
		return nil, &driver.Error{Status: http.StatusNotFound, Code: "invalid session id", Message: "session " + s.id + " was deleted"}
	}
	if !s.c.Running() {
		return nil, &driver.Error{Status: http.StatusNotFound, Code: "no such window", Message: "target window already closed"}
	}
	s.c.logger.Debug("executing script", "session_id", s.id, "script", util.OneLine(script, 80))

	if args == nil {
		args = []any{}
	}
	if err := s.vm.Set("__args", args); err != nil {
		return nil, err
	}
	v, err := s.vm.RunString("(async function() {\n" + script + "\n}).apply(null, __args)")
	if err != nil {
		return nil, scriptError(err.Error())
	}

	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return nil, scriptError(p.Result().String())
		default:
			return nil, &driver.Error{Status: http.StatusInternalServerError, Code: "script timeout", Message: "promise did not settle"}
		}
	}

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return nil, scriptError(err.Error())
	}
	return data, nil
}

// Quit ends the session. The application keeps running, as it does in the
// real containers.
func (s *session) Quit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit {
		return nil
	}
	s.quit = true

	s.c.mu.Lock()
	delete(s.c.sessions, s.id)
	s.c.mu.Unlock()
	s.c.logger.Debug("driver session deleted", "session_id", s.id)
	return nil
}

func scriptError(msg string) *driver.Error {
	return &driver.Error{Status: http.StatusInternalServerError, Code: "javascript error", Message: msg}
}
