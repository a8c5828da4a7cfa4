package harness

import (
	"context"
	"slices"
	"time"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/runtime"
)

// Scenario is a named end-to-end check that runs against an open session.
type Scenario struct {
	Name        string
	Description string
	// Container, when set, is the only container the scenario applies to.
	Container string
	// InitiallyRunning is the application state the scenario expects to
	// find when it begins.
	InitiallyRunning bool
	Run              func(ctx context.Context, s *Session) error
}

var scenarios = []Scenario{
	{
		Name:        "initially-closed",
		Description: "start a closed application, wait for it to run, stop it again",
		Container:   config.ContainerOpenFin,
		Run:         runInitiallyClosed,
	},
	{
		Name:             "initially-open",
		Description:      "stop a running application and start it again",
		Container:        config.ContainerOpenFin,
		InitiallyRunning: true,
		Run:              runInitiallyOpen,
	},
	{
		Name:        "tauri-basic",
		Description: "start a Tauri application and check its window exposes the Tauri API",
		Container:   config.ContainerTauri,
		Run:         runTauriBasic,
	},
}

// Scenarios returns the built-in scenarios.
func Scenarios() []Scenario {
	return slices.Clone(scenarios)
}

// LookupScenario returns the built-in scenario called name.
func LookupScenario(name string) (Scenario, bool) {
	i := slices.IndexFunc(scenarios, func(sc Scenario) bool { return sc.Name == name })
	if i < 0 {
		return Scenario{}, false
	}
	return scenarios[i], true
}

// ScenarioNames returns the names of the built-in scenarios.
func ScenarioNames() []string {
	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}
	return names
}

func (s *Session) expectRunning(ctx context.Context, expected bool, timeout time.Duration) error {
	res, err := s.AwaitRunningState(ctx, expected, timeout)
	if err != nil {
		return err
	}
	op := "application running"
	if !expected {
		op = "application not running"
	}
	return ExpectState(op, res, expected, timeout)
}

func (s *Session) expectEvent(ctx context.Context, name string) error {
	timeout := s.cfg.Poll.EventTimeout()
	res, err := s.AwaitEventFired(ctx, name, timeout)
	if err != nil {
		return err
	}
	return ExpectState(name+" event fired", res, true, timeout)
}

func runInitiallyClosed(ctx context.Context, s *Session) error {
	timeouts := s.cfg.Poll
	if err := s.expectRunning(ctx, false, 0); err != nil {
		return errors.Wrap(err, "precondition")
	}

	if err := s.StartApplication(ctx); err != nil {
		return err
	}
	if err := s.expectEvent(ctx, runtime.EventStarted); err != nil {
		return err
	}
	if err := s.expectRunning(ctx, true, timeouts.RunningTimeout()); err != nil {
		return err
	}
	windows, err := s.ChildWindowsOpen(ctx, timeouts.WindowLoadTimeout())
	if err != nil {
		return err
	}
	if err := ExpectState("child windows open", windows, true, timeouts.WindowLoadTimeout()); err != nil {
		return err
	}

	if err := s.StopApplication(ctx); err != nil {
		return err
	}
	if err := s.expectEvent(ctx, runtime.EventClosed); err != nil {
		return err
	}
	return s.expectRunning(ctx, false, timeouts.RunningTimeout())
}

func runInitiallyOpen(ctx context.Context, s *Session) error {
	timeouts := s.cfg.Poll
	if err := s.expectRunning(ctx, true, 0); err != nil {
		return errors.Wrap(err, "precondition")
	}

	if err := s.StopApplication(ctx); err != nil {
		return err
	}
	if err := s.expectEvent(ctx, runtime.EventClosed); err != nil {
		return err
	}

	if err := s.StartApplication(ctx); err != nil {
		return err
	}
	if err := s.expectEvent(ctx, runtime.EventStarted); err != nil {
		return err
	}
	return s.expectRunning(ctx, true, timeouts.RunningTimeout())
}

func runTauriBasic(ctx context.Context, s *Session) error {
	if err := s.StartApplication(ctx); err != nil {
		return err
	}
	ok, err := s.IsTauri(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewTimeoutError("window exposes the Tauri API", 0).WithValues(true, false)
	}
	return s.StopApplication(ctx)
}
