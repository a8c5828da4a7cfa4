// Package driver launches automation-driver sessions against a desktop
// container.
//
// Both supported containers are driven through a W3C WebDriver endpoint,
// chromedriver for OpenFin and tauri-driver for Tauri, using the selenium
// client. Sessions expose script execution and Quit, which is all the
// harness needs.
package driver

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// Launcher creates driver sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// Session is a live driver session.
type Session interface {
	// ID returns the driver's session identifier.
	ID() string

	// ExecuteScript runs script synchronously in the current window and
	// returns the JSON value it returned.
	ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error)

	// Quit ends the session. Quitting does not necessarily terminate the
	// container process. Safe to call more than once.
	Quit(ctx context.Context) error
}

// Options selects the container to launch. Exactly one of Chrome and
// Tauri must be set.
type Options struct {
	Chrome *ChromeOptions
	Tauri  *TauriOptions
}

// ChromeOptions launch or attach to a Chromium-based container.
type ChromeOptions struct {
	// Binary is the executable chromedriver starts in place of Chrome.
	Binary string
	Args   []string
	// DebuggerAddress attaches to an already-running container instead of
	// launching Binary.
	DebuggerAddress string
}

// TauriOptions launch a Tauri application through tauri-driver.
type TauriOptions struct {
	// Application is the path of the application binary.
	Application string
}

// Capabilities returns the W3C capabilities for the options. OpenFin is
// driven as Chrome; Tauri's driver expects the "wry" browser with the
// application under tauri:options.
func (o Options) Capabilities() (selenium.Capabilities, error) {
	switch {
	case o.Chrome != nil && o.Tauri != nil:
		return nil, errors.NewValidationError("chrome and tauri options are mutually exclusive")
	case o.Chrome != nil:
		if o.Chrome.Binary == "" && o.Chrome.DebuggerAddress == "" {
			return nil, errors.NewValidationError("chrome options need a binary or a debugger address")
		}
		caps := selenium.Capabilities{"browserName": "chrome"}
		caps.AddChrome(chrome.Capabilities{
			Path:         o.Chrome.Binary,
			Args:         o.Chrome.Args,
			DebuggerAddr: o.Chrome.DebuggerAddress,
		})
		return caps, nil
	case o.Tauri != nil:
		if o.Tauri.Application == "" {
			return nil, errors.NewValidationError("tauri application path is required").WithField("tauri.application_path")
		}
		return selenium.Capabilities{
			"browserName":   "wry",
			"tauri:options": map[string]any{"application": o.Tauri.Application},
		}, nil
	default:
		return nil, errors.NewValidationError("no driver options given")
	}
}
