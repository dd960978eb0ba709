package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hive configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("binary: %s\n", cfg.Binary)
	fmt.Printf("workspace: %s\n", cfg.Workspace)
	fmt.Printf("defaults.model: %s\n", cfg.Defaults.Model)
	fmt.Printf("defaults.timeout: %s\n", cfg.Defaults.Timeout)
	fmt.Printf("defaults.max_attempts: %d\n", cfg.Defaults.MaxAttempts)
	fmt.Printf("pool.workers: %d\n", cfg.Pool.Workers)
	fmt.Printf("pool.capacity: %d\n", cfg.Pool.Capacity)
	fmt.Printf("pool.capabilities: %s\n", strings.Join(cfg.Pool.Capabilities, ","))
	fmt.Printf("pool.coordinator_model: %s\n", cfg.Pool.CoordinatorModel)
	fmt.Printf("supervisor.start_timeout: %s\n", cfg.Supervisor.StartTimeout)
	fmt.Printf("supervisor.grace_period: %s\n", cfg.Supervisor.GracePeriod)
	fmt.Printf("supervisor.health_interval: %s\n", cfg.Supervisor.HealthInterval)
	fmt.Printf("supervisor.max_retries: %d\n", cfg.Supervisor.MaxRetries)
	fmt.Printf("tools.allow: %s\n", strings.Join(cfg.Tools.Allow, ","))
	fmt.Printf("tools.deny: %s\n", strings.Join(cfg.Tools.Deny, ","))
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "binary":
		return cfg.Binary, nil
	case "workspace":
		return cfg.Workspace, nil
	case "defaults.model":
		return cfg.Defaults.Model, nil
	case "defaults.timeout":
		return cfg.Defaults.Timeout.String(), nil
	case "defaults.max_attempts":
		return strconv.Itoa(cfg.Defaults.MaxAttempts), nil
	case "pool.workers":
		return strconv.Itoa(cfg.Pool.Workers), nil
	case "pool.capacity":
		return strconv.Itoa(cfg.Pool.Capacity), nil
	case "pool.capabilities":
		return strings.Join(cfg.Pool.Capabilities, ","), nil
	case "pool.coordinator_model":
		return cfg.Pool.CoordinatorModel, nil
	case "supervisor.start_timeout":
		return cfg.Supervisor.StartTimeout.String(), nil
	case "supervisor.grace_period":
		return cfg.Supervisor.GracePeriod.String(), nil
	case "supervisor.health_interval":
		return cfg.Supervisor.HealthInterval.String(), nil
	case "supervisor.max_retries":
		return strconv.Itoa(cfg.Supervisor.MaxRetries), nil
	case "tools.allow":
		return strings.Join(cfg.Tools.Allow, ","), nil
	case "tools.deny":
		return strings.Join(cfg.Tools.Deny, ","), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "binary":
		cfg.Binary = value
	case "workspace":
		cfg.Workspace = value
	case "defaults.model":
		cfg.Defaults.Model = value
	case "defaults.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		cfg.Defaults.Timeout = d
	case "defaults.max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid attempt count %q", value)
		}
		cfg.Defaults.MaxAttempts = n
	case "pool.workers":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid worker count %q", value)
		}
		cfg.Pool.Workers = n
	case "pool.capacity":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid capacity %q", value)
		}
		cfg.Pool.Capacity = n
	case "pool.capabilities":
		cfg.Pool.Capabilities = splitList(value)
	case "pool.coordinator_model":
		cfg.Pool.CoordinatorModel = value
	case "supervisor.start_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		cfg.Supervisor.StartTimeout = d
	case "supervisor.grace_period":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		cfg.Supervisor.GracePeriod = d
	case "supervisor.health_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		cfg.Supervisor.HealthInterval = d
	case "supervisor.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid retry count %q", value)
		}
		cfg.Supervisor.MaxRetries = n
	case "tools.allow":
		cfg.Tools.Allow = splitList(value)
	case "tools.deny":
		cfg.Tools.Deny = splitList(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
