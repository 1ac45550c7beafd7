package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the agent identity and tunables persisted at the
// system-wide config path. AgentID, APIKey and DashboardURL together form
// the agent identity; it is replaced only by an explicit Save.
type Config struct {
	AgentID                  string `mapstructure:"agent_id"`
	APIKey                   string `mapstructure:"api_key"`
	DashboardURL             string `mapstructure:"dashboard_url"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	ReconnectDelaySeconds    int    `mapstructure:"reconnect_delay_seconds"`
	UseRealtimeTransport     bool   `mapstructure:"use_realtime_transport"`
	MaxConcurrentCommands    int    `mapstructure:"max_concurrent_commands"`
	CommandQueueSize         int    `mapstructure:"command_queue_size"`
	LogLevel                 string `mapstructure:"log_level"`
	LogFormat                string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		HeartbeatIntervalSeconds: 30,
		ReconnectDelaySeconds:    5,
		UseRealtimeTransport:     true,
		MaxConcurrentCommands:    4,
		CommandQueueSize:         64,
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// Ready reports whether the agent is configured enough to talk to the
// dashboard: a non-empty API key and dashboard URL.
func (c *Config) Ready() bool {
	return c.APIKey != "" && c.DashboardURL != ""
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FLEETPRINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("agent_id", cfg.AgentID)
	v.Set("api_key", cfg.APIKey)
	v.Set("dashboard_url", cfg.DashboardURL)
	v.Set("heartbeat_interval_seconds", cfg.HeartbeatIntervalSeconds)
	v.Set("reconnect_delay_seconds", cfg.ReconnectDelaySeconds)
	v.Set("use_realtime_transport", cfg.UseRealtimeTransport)
	v.Set("max_concurrent_commands", cfg.MaxConcurrentCommands)
	v.Set("command_queue_size", cfg.CommandQueueSize)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "agent.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains the API key)
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "FleetPrint")
	case "darwin":
		return "/Library/Application Support/FleetPrint"
	default:
		return "/etc/fleetprint"
	}
}
