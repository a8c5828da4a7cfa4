package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify appharness configuration",
	Long: `View or modify appharness configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  appharness config set container tauri
  appharness config set runtime.adapter_version 23.96.67.7
  appharness config set poll.event_timeout_ms 1000

Valid keys:
  container                       - openfin or tauri
  app.uuid                        - Application identifier inside the container
  app.manifest_name               - Manifest file served from assets.root
  assets.root                     - Directory served over HTTP
  assets.port                     - Asset server port (0 picks a free port)
  runtime.adapter_version         - Runtime version the adapter is built for
  runtime.address                 - host:port of the container's automation bridge
  openfin.launch_script           - Script that starts the container
  openfin.remote_debugging_port   - Container debug port
  openfin.chromedriver_path       - chromedriver to spawn (empty: already running)
  openfin.chromedriver_url        - WebDriver endpoint for OpenFin
  tauri.driver_path               - tauri-driver to spawn (empty: already running)
  tauri.application_path          - Built Tauri application binary
  poll.interval_ms                - Delay between samples
  poll.event_timeout_ms           - Wait for lifecycle events
  poll.running_timeout_ms         - Wait for running-state changes
  poll.window_load_timeout_ms     - Wait for child windows
  logging.level                   - debug, info, warn or error`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/appharness/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// settableKeys maps each settable key to its value type.
var settableKeys = map[string]string{
	"container":                     "container",
	"app.uuid":                      "string",
	"app.manifest_name":             "string",
	"assets.root":                   "string",
	"assets.port":                   "int",
	"runtime.adapter_version":       "string",
	"runtime.address":               "string",
	"openfin.launch_script":         "string",
	"openfin.remote_debugging_port": "int",
	"openfin.chromedriver_path":     "string",
	"openfin.chromedriver_url":      "string",
	"tauri.driver_path":             "string",
	"tauri.application_path":        "string",
	"poll.interval_ms":              "int",
	"poll.event_timeout_ms":         "int",
	"poll.running_timeout_ms":       "int",
	"poll.window_load_timeout_ms":   "int",
	"logging.level":                 "level",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'appharness config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "container":
		if !slices.Contains(config.ValidContainers(), value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidContainers(), ", "))
		}
		typedValue = value
	case "level":
		if !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = strings.ToLower(value)
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

const defaultConfigContent = `# appharness configuration

# Application container: openfin or tauri
container: openfin

# Application under test
app:
  uuid: openfin-tests
  # Manifest file served from assets.root
  manifest_name: app.json

# Local HTTP server for the manifest and application files
assets:
  root: assets
  host: localhost
  # 0 picks a free port
  port: 9070

# Automation runtime of the container
runtime:
  # A manifest requesting exactly this version shares the running container
  adapter_version: 23.96.67.7
  address: localhost:9696
  connect_timeout_ms: 10000

openfin:
  launch_script: RunOpenFin.bat
  remote_debugging_port: 4444
  # Leave empty when chromedriver is already running
  chromedriver_path: ""
  chromedriver_url: http://localhost:9515/
  close_script: window.close()

tauri:
  # Leave empty when tauri-driver is already running
  driver_path: ""
  driver_url: http://localhost:4444/
  application_path: ""

# Condition polling
poll:
  interval_ms: 100
  event_timeout_ms: 500
  running_timeout_ms: 1000
  window_load_timeout_ms: 30000

logging:
  enabled: true
  level: info
  # Session log directory; empty logs to stderr
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'appharness config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to point the harness at your container.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: APPHARNESS_* (e.g., APPHARNESS_RUNTIME_ADAPTER_VERSION)")

	return nil
}
