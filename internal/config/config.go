package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Supported container kinds
const (
	ContainerOpenFin = "openfin"
	ContainerTauri   = "tauri"
)

// Config represents the complete harness configuration
type Config struct {
	// Container selects the application container: "openfin" or "tauri"
	Container string        `mapstructure:"container"`
	App       AppConfig     `mapstructure:"app"`
	Assets    AssetsConfig  `mapstructure:"assets"`
	Runtime   RuntimeConfig `mapstructure:"runtime"`
	OpenFin   OpenFinConfig `mapstructure:"openfin"`
	Tauri     TauriConfig   `mapstructure:"tauri"`
	Poll      PollConfig    `mapstructure:"poll"`
	Logging   LoggingConfig `mapstructure:"logging"`
}

// AppConfig identifies the application under test
type AppConfig struct {
	// UUID is the application identifier inside the container (default: "openfin-tests")
	UUID string `mapstructure:"uuid"`
	// ManifestName is the manifest file served by the asset server (default: "app.json")
	ManifestName string `mapstructure:"manifest_name"`
}

// AssetsConfig controls the local HTTP server that serves the manifest and app files
type AssetsConfig struct {
	// Root is the directory served over HTTP
	Root string `mapstructure:"root"`
	// Host is the listen host (default: "localhost")
	Host string `mapstructure:"host"`
	// Port is the listen port; 0 picks an ephemeral port (default: 9070)
	Port int `mapstructure:"port"`
	// Watch logs file changes under Root while serving
	Watch bool `mapstructure:"watch"`
}

// RuntimeConfig controls the connection to the container's automation runtime
type RuntimeConfig struct {
	// AdapterVersion is the runtime version the automation adapter is built for.
	// A manifest requesting exactly this version shares the adapter's runtime.
	AdapterVersion string `mapstructure:"adapter_version"`
	// Address is the host:port of the container's automation bridge
	Address string `mapstructure:"address"`
	// ConnectTimeoutMs bounds how long Connect waits for the bridge
	ConnectTimeoutMs int `mapstructure:"connect_timeout_ms"`
}

// OpenFinConfig controls how the OpenFin container is launched
type OpenFinConfig struct {
	// LaunchScript starts the container (default: "RunOpenFin.bat")
	LaunchScript string `mapstructure:"launch_script"`
	// RemoteDebuggingPort is the port the container's renderer debugger listens on (default: 4444)
	RemoteDebuggingPort int `mapstructure:"remote_debugging_port"`
	// ChromeDriverPath is the chromedriver executable; empty means a driver is already running
	ChromeDriverPath string `mapstructure:"chromedriver_path"`
	// ChromeDriverURL is the WebDriver endpoint (default: "http://localhost:9515/")
	ChromeDriverURL string `mapstructure:"chromedriver_url"`
	// ChromeDriverLog is passed to chromedriver as --log-path when set
	ChromeDriverLog string `mapstructure:"chromedriver_log"`
	// CloseScript is executed in the app window before the driver session quits
	CloseScript string `mapstructure:"close_script"`
}

// TauriConfig controls how the Tauri container is launched
type TauriConfig struct {
	// DriverPath is the tauri-driver executable (default: ~/.cargo/bin/tauri-driver)
	DriverPath string `mapstructure:"driver_path"`
	// DriverURL is the WebDriver endpoint (default: "http://localhost:4444/")
	DriverURL string `mapstructure:"driver_url"`
	// ApplicationPath is the built application binary
	ApplicationPath string `mapstructure:"application_path"`
}

// PollConfig controls condition polling
type PollConfig struct {
	// IntervalMs is the delay between predicate samples (default: 100)
	IntervalMs int `mapstructure:"interval_ms"`
	// EventTimeoutMs bounds waits for pushed lifecycle events (default: 500)
	EventTimeoutMs int `mapstructure:"event_timeout_ms"`
	// RunningTimeoutMs bounds waits for running-state queries (default: 1000)
	RunningTimeoutMs int `mapstructure:"running_timeout_ms"`
	// WindowLoadTimeoutMs bounds waits for the app's windows to open (default: 30000)
	WindowLoadTimeoutMs int `mapstructure:"window_load_timeout_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether session logs are written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for session log files; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Container: ContainerOpenFin,
		App: AppConfig{
			UUID:         "openfin-tests",
			ManifestName: "app.json",
		},
		Assets: AssetsConfig{
			Root: "assets",
			Host: "localhost",
			Port: 9070,
		},
		Runtime: RuntimeConfig{
			AdapterVersion:   "23.96.67.7",
			Address:          "localhost:9696",
			ConnectTimeoutMs: 10000,
		},
		OpenFin: OpenFinConfig{
			LaunchScript:        "RunOpenFin.bat",
			RemoteDebuggingPort: 4444,
			ChromeDriverURL:     "http://localhost:9515/",
			CloseScript:         "window.close()",
		},
		Tauri: TauriConfig{
			DriverPath: defaultTauriDriverPath(),
			DriverURL:  "http://localhost:4444/",
		},
		Poll: PollConfig{
			IntervalMs:          100,
			EventTimeoutMs:      500,
			RunningTimeoutMs:    1000,
			WindowLoadTimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

func defaultTauriDriverPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tauri-driver"
	}
	return filepath.Join(home, ".cargo", "bin", "tauri-driver")
}

// Interval returns the poll interval as a time.Duration
func (c *PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// EventTimeout returns the lifecycle event timeout as a time.Duration
func (c *PollConfig) EventTimeout() time.Duration {
	return time.Duration(c.EventTimeoutMs) * time.Millisecond
}

// RunningTimeout returns the running-state timeout as a time.Duration
func (c *PollConfig) RunningTimeout() time.Duration {
	return time.Duration(c.RunningTimeoutMs) * time.Millisecond
}

// WindowLoadTimeout returns the window-load timeout as a time.Duration
func (c *PollConfig) WindowLoadTimeout() time.Duration {
	return time.Duration(c.WindowLoadTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the runtime connect timeout as a time.Duration
func (c *RuntimeConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ListenAddr returns the host:port the asset server binds
func (c *AssetsConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("container", defaults.Container)

	// App defaults
	viper.SetDefault("app.uuid", defaults.App.UUID)
	viper.SetDefault("app.manifest_name", defaults.App.ManifestName)

	// Asset server defaults
	viper.SetDefault("assets.root", defaults.Assets.Root)
	viper.SetDefault("assets.host", defaults.Assets.Host)
	viper.SetDefault("assets.port", defaults.Assets.Port)
	viper.SetDefault("assets.watch", defaults.Assets.Watch)

	// Runtime defaults
	viper.SetDefault("runtime.adapter_version", defaults.Runtime.AdapterVersion)
	viper.SetDefault("runtime.address", defaults.Runtime.Address)
	viper.SetDefault("runtime.connect_timeout_ms", defaults.Runtime.ConnectTimeoutMs)

	// OpenFin defaults
	viper.SetDefault("openfin.launch_script", defaults.OpenFin.LaunchScript)
	viper.SetDefault("openfin.remote_debugging_port", defaults.OpenFin.RemoteDebuggingPort)
	viper.SetDefault("openfin.chromedriver_path", defaults.OpenFin.ChromeDriverPath)
	viper.SetDefault("openfin.chromedriver_url", defaults.OpenFin.ChromeDriverURL)
	viper.SetDefault("openfin.chromedriver_log", defaults.OpenFin.ChromeDriverLog)
	viper.SetDefault("openfin.close_script", defaults.OpenFin.CloseScript)

	// Tauri defaults
	viper.SetDefault("tauri.driver_path", defaults.Tauri.DriverPath)
	viper.SetDefault("tauri.driver_url", defaults.Tauri.DriverURL)
	viper.SetDefault("tauri.application_path", defaults.Tauri.ApplicationPath)

	// Poll defaults
	viper.SetDefault("poll.interval_ms", defaults.Poll.IntervalMs)
	viper.SetDefault("poll.event_timeout_ms", defaults.Poll.EventTimeoutMs)
	viper.SetDefault("poll.running_timeout_ms", defaults.Poll.RunningTimeoutMs)
	viper.SetDefault("poll.window_load_timeout_ms", defaults.Poll.WindowLoadTimeoutMs)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "appharness")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".appharness"
	}
	return filepath.Join(home, ".config", "appharness")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidContainers returns the list of supported container kinds
func ValidContainers() []string {
	return []string{ContainerOpenFin, ContainerTauri}
}
