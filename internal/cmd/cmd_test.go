package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// isolateConfig points the config directory at a temp dir so the user's
// own config never leaks into a test.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "appharness")
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "appharness" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "appharness")
	}

	// Compare by Name(), not Use which includes args
	expectedCmds := []string{"serve", "scenario", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}

	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestScenarioCommand_Simulated(t *testing.T) {
	isolateConfig(t)

	for _, name := range []string{"initially-closed", "initially-open", "tauri-basic"} {
		t.Run(name, func(t *testing.T) {
			output, err := executeCommand(rootCmd, "scenario", name, "--simulate", "--log-level", "error")
			if err != nil {
				t.Fatalf("scenario %s failed: %v\n%s", name, err, output)
			}
			if !strings.Contains(output, "PASS "+name) {
				t.Errorf("expected PASS line for %s, got: %s", name, output)
			}
		})
	}
}

func TestScenarioCommand_Unknown(t *testing.T) {
	isolateConfig(t)

	_, err := executeCommand(rootCmd, "scenario", "initially-ajar", "--simulate")
	if err == nil {
		t.Fatal("expected error for unknown scenario")
	}
	if !strings.Contains(err.Error(), "initially-closed") {
		t.Errorf("error should list valid scenarios, got: %v", err)
	}
}

func TestConfigCommand(t *testing.T) {
	isolateConfig(t)

	output, err := executeCommand(rootCmd, "config")
	if err != nil {
		t.Fatalf("config command failed: %v", err)
	}

	if !strings.Contains(output, "adapter_version") {
		t.Errorf("expected runtime settings in output, got: %s", output)
	}
	if !strings.Contains(output, "# Config file:") {
		t.Errorf("expected config file header, got: %s", output)
	}
}

func TestConfigPathCommand(t *testing.T) {
	dir := isolateConfig(t)

	output, err := executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if !strings.Contains(output, filepath.Join(dir, "config.yaml")) {
		t.Errorf("expected %s in output, got: %s", dir, output)
	}
	if !strings.Contains(output, "APPHARNESS_") {
		t.Errorf("expected env var hint, got: %s", output)
	}
}

func TestConfigInitCommand(t *testing.T) {
	dir := isolateConfig(t)

	if _, err := executeCommand(rootCmd, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "adapter_version:") {
		t.Errorf("default config missing runtime section:\n%s", data)
	}

	// A second init must not clobber the file
	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("expected error when config file already exists")
	}
}

func TestConfigSetCommand(t *testing.T) {
	dir := isolateConfig(t)
	t.Cleanup(func() { viper.Set("poll.event_timeout_ms", config.Default().Poll.EventTimeoutMs) })

	output, err := executeCommand(rootCmd, "config", "set", "poll.event_timeout_ms", "750")
	if err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	if !strings.Contains(output, "Set poll.event_timeout_ms = 750") {
		t.Errorf("unexpected output: %s", output)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "750") {
		t.Errorf("written config missing value:\n%s", data)
	}
}

func TestConfigSetCommand_Invalid(t *testing.T) {
	isolateConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown key", []string{"config", "set", "runtime.colour", "blue"}, "unknown configuration key"},
		{"bad container", []string{"config", "set", "container", "electron"}, "Valid options: openfin, tauri"},
		{"bad level", []string{"config", "set", "logging.level", "loud"}, "Valid options"},
		{"not an int", []string{"config", "set", "assets.port", "ninety"}, "expected integer"},
		{"negative", []string{"config", "set", "--", "poll.interval_ms", "-1"}, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(rootCmd, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
