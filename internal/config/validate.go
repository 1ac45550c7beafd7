package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would cause panics or busy loops are clamped to
// safe defaults. Other validation errors are logged as warnings but do not
// prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.DashboardURL != "" {
		u, err := url.Parse(c.DashboardURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("dashboard_url %q is not a valid URL: %w", c.DashboardURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("dashboard_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.APIKey != "" {
		for _, r := range c.APIKey {
			if unicode.IsControl(r) {
				errs = append(errs, fmt.Errorf("api_key contains control characters"))
				break
			}
		}
	}

	if c.HeartbeatIntervalSeconds < 5 {
		errs = append(errs, fmt.Errorf("heartbeat_interval_seconds %d is below minimum 5, clamping", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 5
	} else if c.HeartbeatIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("heartbeat_interval_seconds %d exceeds maximum 3600, clamping", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 3600
	}

	if c.ReconnectDelaySeconds < 1 {
		errs = append(errs, fmt.Errorf("reconnect_delay_seconds %d is below minimum 1, clamping", c.ReconnectDelaySeconds))
		c.ReconnectDelaySeconds = 1
	} else if c.ReconnectDelaySeconds > 300 {
		errs = append(errs, fmt.Errorf("reconnect_delay_seconds %d exceeds maximum 300, clamping", c.ReconnectDelaySeconds))
		c.ReconnectDelaySeconds = 300
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.MaxConcurrentCommands < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_commands %d is below minimum 1, clamping", c.MaxConcurrentCommands))
		c.MaxConcurrentCommands = 1
	} else if c.MaxConcurrentCommands > 100 {
		errs = append(errs, fmt.Errorf("max_concurrent_commands %d exceeds maximum 100, clamping", c.MaxConcurrentCommands))
		c.MaxConcurrentCommands = 100
	}

	if c.CommandQueueSize < 1 {
		errs = append(errs, fmt.Errorf("command_queue_size %d is below minimum 1, clamping", c.CommandQueueSize))
		c.CommandQueueSize = 1
	} else if c.CommandQueueSize > 10000 {
		errs = append(errs, fmt.Errorf("command_queue_size %d exceeds maximum 10000, clamping", c.CommandQueueSize))
		c.CommandQueueSize = 10000
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
