// Package harnesstest opens harness sessions for tests. It is kept apart
// from package harness so that production binaries do not link testing.
package harnesstest

import (
	"context"
	"testing"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/harness"
	"github.com/Iron-Ham/appharness/internal/sim"
	"github.com/Iron-Ham/appharness/internal/testutil"
)

// New opens a session for t and closes it when the test ends.
func New(t testing.TB, cfg *config.Config, deps harness.Deps) *harness.Session {
	t.Helper()

	s, err := harness.Open(context.Background(), cfg, deps, nil)
	if err != nil {
		t.Fatalf("open harness session: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close harness session: %v", err)
		}
	})
	return s
}

// Simulated opens a session against a fresh simulated OpenFin container
// serving testutil.SimulatedConfig assets. The container runs the
// application from the start when running is set.
func Simulated(t testing.TB, running bool) (*harness.Session, *sim.Container) {
	t.Helper()

	cfg := testutil.SimulatedConfig(t)
	c := sim.New(sim.Options{UUID: cfg.App.UUID, Running: running})
	t.Cleanup(c.Close)
	return New(t, cfg, harness.Deps{Dialer: c, Launcher: c, Spawn: c.SpawnHelper}), c
}
