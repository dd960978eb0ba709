// Package config handles configuration loading for hive. It supports XDG
// config paths, project-level overrides, environment variables, and hot
// reload of the project file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for hive.
type Config struct {
	Binary     string           `mapstructure:"binary"`
	Workspace  string           `mapstructure:"workspace"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Tools      ToolsConfig      `mapstructure:"tools"`
}

// DefaultsConfig holds per-command defaults.
type DefaultsConfig struct {
	// Model is passed through to the external tool.
	Model string `mapstructure:"model"`
	// Timeout bounds each command.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxAttempts is the task retry budget.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// PoolConfig holds agent pool sizing.
type PoolConfig struct {
	// Workers is the worker replica count.
	Workers int `mapstructure:"workers"`
	// Capacity is each worker's concurrent assignment capacity.
	Capacity int `mapstructure:"capacity"`
	// Capabilities are the tags every worker advertises.
	Capabilities []string `mapstructure:"capabilities"`
	// CoordinatorModel overrides the default model for the coordinator.
	CoordinatorModel string `mapstructure:"coordinator_model"`
}

// SupervisorConfig holds process-lifecycle settings.
type SupervisorConfig struct {
	StartTimeout   time.Duration `mapstructure:"start_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// ToolsConfig restricts what the external tool may do.
type ToolsConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// Load loads configuration with the following precedence, highest first:
// environment variables (HIVE_*), project config (.hive.yaml in the current
// directory or a parent), user config (~/.config/hive/config.yaml), and
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HIVE")
	v.AutomaticEnv()
	v.BindEnv("binary", "HIVE_BINARY")
	v.BindEnv("workspace", "HIVE_WORKSPACE")
	v.BindEnv("defaults.model", "HIVE_MODEL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Workspace = os.ExpandEnv(cfg.Workspace)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Workspace = os.ExpandEnv(cfg.Workspace)
	return cfg, nil
}

// Watch reloads the project config whenever it changes on disk and calls
// onChange with the fresh configuration. Returns false when there is no
// project config to watch.
func Watch(onChange func(*Config)) bool {
	path := findProjectConfig()
	if path == "" {
		return false
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return false
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		cfg.Workspace = os.ExpandEnv(cfg.Workspace)
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("binary", cfg.Binary)
	v.Set("workspace", cfg.Workspace)
	v.Set("defaults.model", cfg.Defaults.Model)
	v.Set("defaults.timeout", cfg.Defaults.Timeout.String())
	v.Set("defaults.max_attempts", cfg.Defaults.MaxAttempts)
	v.Set("pool.workers", cfg.Pool.Workers)
	v.Set("pool.capacity", cfg.Pool.Capacity)
	v.Set("pool.capabilities", cfg.Pool.Capabilities)
	v.Set("pool.coordinator_model", cfg.Pool.CoordinatorModel)
	v.Set("supervisor.start_timeout", cfg.Supervisor.StartTimeout.String())
	v.Set("supervisor.grace_period", cfg.Supervisor.GracePeriod.String())
	v.Set("supervisor.health_interval", cfg.Supervisor.HealthInterval.String())
	v.Set("supervisor.max_retries", cfg.Supervisor.MaxRetries)
	v.Set("tools.allow", cfg.Tools.Allow)
	v.Set("tools.deny", cfg.Tools.Deny)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if one
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Binary:    "claude",
		Workspace: ".",
		Defaults: DefaultsConfig{
			Timeout:     15 * time.Minute,
			MaxAttempts: 3,
		},
		Pool: PoolConfig{
			Workers:  2,
			Capacity: 1,
		},
		Supervisor: SupervisorConfig{
			StartTimeout:   10 * time.Second,
			GracePeriod:    5 * time.Second,
			HealthInterval: 30 * time.Second,
			MaxRetries:     3,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binary", "claude")
	v.SetDefault("workspace", ".")
	v.SetDefault("defaults.model", "")
	v.SetDefault("defaults.timeout", "15m")
	v.SetDefault("defaults.max_attempts", 3)
	v.SetDefault("pool.workers", 2)
	v.SetDefault("pool.capacity", 1)
	v.SetDefault("pool.coordinator_model", "")
	v.SetDefault("supervisor.start_timeout", "10s")
	v.SetDefault("supervisor.grace_period", "5s")
	v.SetDefault("supervisor.health_interval", "30s")
	v.SetDefault("supervisor.max_retries", 3)
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hive.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
