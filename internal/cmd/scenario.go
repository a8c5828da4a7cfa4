package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/harness"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/sim"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario <name>",
	Short: "Run a built-in end-to-end scenario",
	Long: `Run a built-in end-to-end scenario against the configured container and
exit non-zero when it fails. Failures report the expected and the last
observed value.

Scenarios:
  initially-closed  start a closed application, wait for it to run, stop it again
  initially-open    stop a running application and start it again
  tauri-basic       start a Tauri application and check its window exposes the Tauri API

With --simulate the scenario runs against an in-process container, which
needs neither OpenFin, Tauri nor a WebDriver service.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: harness.ScenarioNames(),
	RunE:      runScenario,
}

var scenarioSimulate bool

func init() {
	rootCmd.AddCommand(scenarioCmd)

	scenarioCmd.Flags().BoolVar(&scenarioSimulate, "simulate", false, "run against an in-process simulated container")
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, ok := harness.LookupScenario(args[0])
	if !ok {
		return fmt.Errorf("unknown scenario %q (valid: %s)", args[0], strings.Join(harness.ScenarioNames(), ", "))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if sc.Container != "" {
		cfg.Container = sc.Container
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	var deps harness.Deps
	if scenarioSimulate {
		cleanup, err := simulate(cfg, sc, &deps, logger)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	ctx := cmd.Context()
	start := time.Now()
	err = harness.Run(ctx, cfg, deps, logger, func(s *harness.Session) error {
		return sc.Run(ctx, s)
	})

	out := cmd.OutOrStdout()
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s (%s)\n  %v\n", sc.Name, elapsed, err)
		return fmt.Errorf("scenario %s failed", sc.Name)
	}
	fmt.Fprintf(out, "PASS %s (%s)\n", sc.Name, elapsed)
	return nil
}

// simulate points cfg and deps at an in-process container with a generated
// manifest. The returned function releases it.
func simulate(cfg *config.Config, sc harness.Scenario, deps *harness.Deps, logger *logging.Logger) (func(), error) {
	deps.Bus = event.NewBus(logger)
	c := sim.New(sim.Options{
		Container: cfg.Container,
		UUID:      cfg.App.UUID,
		Running:   sc.InitiallyRunning,
		Bus:       deps.Bus,
		Logger:    logger,
	})
	deps.Dialer = c
	deps.Launcher = c
	deps.Spawn = c.SpawnHelper

	if cfg.Container == config.ContainerTauri {
		if cfg.Tauri.ApplicationPath == "" {
			cfg.Tauri.ApplicationPath = "simulated-tauri-app"
		}
		return c.Close, nil
	}

	dir, err := os.MkdirTemp("", "appharness-assets-")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	if err := sim.WriteAssets(dir, cfg.App.ManifestName, cfg.App.UUID, cfg.Runtime.AdapterVersion); err != nil {
		c.Close()
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write simulated assets: %w", err)
	}
	cfg.Assets.Root = dir
	cfg.Assets.Port = 0

	return func() {
		c.Close()
		_ = os.RemoveAll(dir)
	}, nil
}
