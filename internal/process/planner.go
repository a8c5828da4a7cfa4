package process

import (
	"fmt"

	"github.com/Iron-Ham/appharness/internal/driver"
	"github.com/Iron-Ham/appharness/internal/errors"
)

// StartRequest asks for the application described by the manifest at
// ManifestURL. Shared reuses an already-running container.
type StartRequest struct {
	ManifestURL string
	Shared      bool
}

// Plan is how a container is brought up for one StartRequest.
type Plan struct {
	// Driver is handed to the driver launcher.
	Driver driver.Options
	// Helper, when set, is spawned before the driver session is created and
	// stopped after it ends.
	Helper *Command
	// CloseScript runs in the driver session before it quits. Empty means
	// quitting the session is enough to end the application.
	CloseScript string
}

// Planner turns a StartRequest into a Plan.
type Planner interface {
	Plan(req StartRequest) (Plan, error)
}

// OpenFinPlanner plans launches through the OpenFin launch script.
type OpenFinPlanner struct {
	// LaunchScript starts the container, for example RunOpenFin.bat.
	LaunchScript string
	// DebugPort is the container's remote debugging port.
	DebugPort int
	// CloseScript asks the application window to close. Quitting the
	// driver alone leaves the container running.
	CloseScript string
}

// Plan attaches to the shared container's debug port after starting the
// application through the launch script, or has the driver start the
// launch script itself with its own debug port.
func (p OpenFinPlanner) Plan(req StartRequest) (Plan, error) {
	if req.ManifestURL == "" {
		return Plan{}, errors.NewValidationError("manifest url is required").WithField("manifest_url")
	}
	if p.LaunchScript == "" {
		return Plan{}, errors.NewValidationError("launch script is required").WithField("openfin.launch_script")
	}

	configArg := "--config=" + req.ManifestURL
	if req.Shared {
		return Plan{
			Driver: driver.Options{Chrome: &driver.ChromeOptions{
				DebuggerAddress: fmt.Sprintf("localhost:%d", p.DebugPort),
			}},
			Helper:      &Command{Path: p.LaunchScript, Args: []string{configArg}},
			CloseScript: p.CloseScript,
		}, nil
	}
	return Plan{
		Driver: driver.Options{Chrome: &driver.ChromeOptions{
			Binary: p.LaunchScript,
			Args:   []string{configArg, fmt.Sprintf("--remote-debugging-port=%d", p.DebugPort)},
		}},
		CloseScript: p.CloseScript,
	}, nil
}

// TauriPlanner plans launches of a Tauri application binary. The manifest
// and sharing are not used: tauri-driver always starts the binary itself.
type TauriPlanner struct {
	Application string
}

// Plan returns the tauri-driver capabilities for the application.
func (p TauriPlanner) Plan(StartRequest) (Plan, error) {
	if p.Application == "" {
		return Plan{}, errors.NewValidationError("application path is required").WithField("tauri.application_path")
	}
	return Plan{
		Driver: driver.Options{Tauri: &driver.TauriOptions{Application: p.Application}},
	}, nil
}
