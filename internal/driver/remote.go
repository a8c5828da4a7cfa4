package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/util"
	"github.com/tebeka/selenium"
)

// maxLoggedScript bounds how much of a script appears in debug logs.
const maxLoggedScript = 120

// Error is an error response of a WebDriver endpoint.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdriver error %d %s: %s", e.Status, e.Code, e.Message)
}

// fromSelenium converts the client's error responses into *Error and
// leaves transport failures alone.
func fromSelenium(err error) error {
	var serr *selenium.Error
	if errors.As(err, &serr) {
		return &Error{Status: serr.HTTPCode, Code: serr.Err, Message: serr.Message}
	}
	return err
}

// Remote creates sessions on a W3C WebDriver endpoint through the selenium
// client.
type Remote struct {
	urlPrefix string
	logger    *logging.Logger
}

// NewRemote creates a launcher for the endpoint at baseURL, for example
// http://localhost:9515/.
func NewRemote(baseURL string, logger *logging.Logger) *Remote {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Remote{
		urlPrefix: strings.TrimSuffix(baseURL, "/"),
		logger:    logger.WithComponent("webdriver").With("endpoint", baseURL),
	}
}

// Launch creates a session. Failures are *errors.LaunchError. When ctx ends
// before the endpoint answers, a session it creates later is quit again.
func (r *Remote) Launch(ctx context.Context, opts Options) (Session, error) {
	caps, err := opts.Capabilities()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewLaunchError("launch canceled", err).WithBinary(binaryOf(opts))
	}

	type created struct {
		wd  selenium.WebDriver
		err error
	}
	ch := make(chan created, 1)
	go func() {
		wd, err := selenium.NewRemote(caps, r.urlPrefix)
		ch <- created{wd, err}
	}()

	var res created
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.err == nil {
				_ = late.wd.Quit()
			}
		}()
		return nil, errors.NewLaunchError("launch canceled", ctx.Err()).WithBinary(binaryOf(opts))
	}

	if res.err != nil {
		return nil, errors.NewLaunchError("failed to create driver session", fromSelenium(res.err)).WithBinary(binaryOf(opts))
	}
	id := res.wd.SessionID()
	if id == "" {
		return nil, errors.NewLaunchError("driver returned no session id", nil).WithBinary(binaryOf(opts))
	}

	r.logger.Info("driver session created", "session_id", id)
	return &remoteSession{wd: res.wd, id: id, logger: r.logger}, nil
}

func binaryOf(opts Options) string {
	switch {
	case opts.Chrome != nil && opts.Chrome.Binary != "":
		return opts.Chrome.Binary
	case opts.Chrome != nil:
		return opts.Chrome.DebuggerAddress
	case opts.Tauri != nil:
		return opts.Tauri.Application
	}
	return ""
}

// await runs fn, which cannot be canceled, and stops waiting for it once
// ctx is done.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, fromSelenium(r.err)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type remoteSession struct {
	wd     selenium.WebDriver
	id     string
	logger *logging.Logger

	quitOnce sync.Once
	quitErr  error
}

func (s *remoteSession) ID() string { return s.id }

func (s *remoteSession) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	s.logger.Debug("executing script", "session_id", s.id, "script", util.OneLine(script, maxLoggedScript))

	value, err := await(ctx, func() (any, error) { return s.wd.ExecuteScript(script, args) })
	if err != nil {
		return nil, errors.Wrap(err, "execute script")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encode script result")
	}
	return data, nil
}

func (s *remoteSession) Quit(ctx context.Context) error {
	s.quitOnce.Do(func() {
		_, s.quitErr = await(ctx, func() (struct{}, error) { return struct{}{}, s.wd.Quit() })
		if s.quitErr == nil {
			s.logger.Info("driver session quit", "session_id", s.id)
		}
	})
	return s.quitErr
}
