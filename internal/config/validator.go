package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "poll.interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidContainers(), c.Container) {
		errors = append(errors, ValidationError{
			Field:   "container",
			Value:   c.Container,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidContainers(), ", ")),
		})
	}

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateAssets()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateContainer()...)
	errors = append(errors, c.validatePoll()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateApp() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.App.UUID) == "" {
		errors = append(errors, ValidationError{
			Field:   "app.uuid",
			Value:   c.App.UUID,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.App.ManifestName) == "" {
		errors = append(errors, ValidationError{
			Field:   "app.manifest_name",
			Value:   c.App.ManifestName,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateAssets() []ValidationError {
	var errors []ValidationError

	if c.Assets.Port < 0 || c.Assets.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "assets.port",
			Value:   c.Assets.Port,
			Message: "must be between 0 and 65535",
		})
	}

	return errors
}

func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	if c.Container != ContainerOpenFin {
		return errors
	}
	if c.Runtime.AdapterVersion == "" {
		errors = append(errors, ValidationError{
			Field:   "runtime.adapter_version",
			Value:   c.Runtime.AdapterVersion,
			Message: "must not be empty",
		})
	}
	if c.Runtime.ConnectTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.connect_timeout_ms",
			Value:   c.Runtime.ConnectTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

// validateContainer checks the launch settings of the selected container only
func (c *Config) validateContainer() []ValidationError {
	var errors []ValidationError

	switch c.Container {
	case ContainerOpenFin:
		if c.OpenFin.LaunchScript == "" {
			errors = append(errors, ValidationError{
				Field:   "openfin.launch_script",
				Value:   c.OpenFin.LaunchScript,
				Message: "must not be empty",
			})
		}
		if c.OpenFin.RemoteDebuggingPort <= 0 || c.OpenFin.RemoteDebuggingPort > 65535 {
			errors = append(errors, ValidationError{
				Field:   "openfin.remote_debugging_port",
				Value:   c.OpenFin.RemoteDebuggingPort,
				Message: "must be between 1 and 65535",
			})
		}
		errors = append(errors, validateURL("openfin.chromedriver_url", c.OpenFin.ChromeDriverURL)...)
	case ContainerTauri:
		errors = append(errors, validateURL("tauri.driver_url", c.Tauri.DriverURL)...)
	}

	return errors
}

func validateURL(field, raw string) []ValidationError {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: "must be an absolute http(s) URL",
		}}
	}
	return nil
}

func (c *Config) validatePoll() []ValidationError {
	var errors []ValidationError

	if c.Poll.IntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "poll.interval_ms",
			Value:   c.Poll.IntervalMs,
			Message: "must be positive",
		})
	}

	timeouts := []struct {
		field string
		value int
	}{
		{"poll.event_timeout_ms", c.Poll.EventTimeoutMs},
		{"poll.running_timeout_ms", c.Poll.RunningTimeoutMs},
		{"poll.window_load_timeout_ms", c.Poll.WindowLoadTimeoutMs},
	}
	for _, tt := range timeouts {
		if tt.value < 0 {
			errors = append(errors, ValidationError{
				Field:   tt.field,
				Value:   tt.value,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
