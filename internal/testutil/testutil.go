// Package testutil provides testing utilities for appharness tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/sim"
)

// SetupAssetDir creates a temporary asset directory holding a manifest and
// start page for uuid, declaring runtime version. The directory is removed
// when the test completes.
func SetupAssetDir(t testing.TB, manifestName, uuid, version string) string {
	t.Helper()

	dir := t.TempDir()
	if err := sim.WriteAssets(dir, manifestName, uuid, version); err != nil {
		t.Fatalf("failed to write assets: %v", err)
	}
	return dir
}

// SetupAssetDirWithContent creates a temporary asset directory with the
// given files. The files map contains relative paths to file contents.
func SetupAssetDirWithContent(t testing.TB, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	return dir
}

// WriteFile creates or replaces a file below dir, creating parent
// directories as needed.
func WriteFile(t testing.TB, dir, path, content string) {
	t.Helper()

	fullPath := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// SimulatedConfig returns the default configuration tuned for tests: the
// asset server listens on an ephemeral loopback port and serves a fresh
// asset directory whose manifest shares the adapter's runtime.
func SimulatedConfig(t testing.TB) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Assets.Root = SetupAssetDir(t, cfg.App.ManifestName, cfg.App.UUID, cfg.Runtime.AdapterVersion)
	cfg.Assets.Host = "127.0.0.1"
	cfg.Assets.Port = 0
	cfg.Poll.IntervalMs = 10
	return cfg
}

// ReservePort listens on an ephemeral loopback port and keeps it occupied
// until the test completes.
func ReservePort(t testing.TB) (net.Listener, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}
