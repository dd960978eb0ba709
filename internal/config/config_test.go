package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Binary != "claude" {
		t.Errorf("binary = %q, want claude", cfg.Binary)
	}
	if cfg.Pool.Workers != 2 || cfg.Pool.Capacity != 1 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Defaults.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Defaults.MaxAttempts)
	}
	if cfg.Supervisor.MaxRetries != 3 {
		t.Errorf("supervisor max_retries = %d, want 3", cfg.Supervisor.MaxRetries)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `binary: /usr/local/bin/claude
workspace: /srv/work
defaults:
  model: sonnet
  timeout: 5m
  max_attempts: 5
pool:
  workers: 4
  capabilities:
    - backend
    - infra
supervisor:
  max_retries: 1
tools:
  deny:
    - Bash
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Binary != "/usr/local/bin/claude" {
		t.Errorf("binary = %q", cfg.Binary)
	}
	if cfg.Defaults.Model != "sonnet" || cfg.Defaults.Timeout != 5*time.Minute || cfg.Defaults.MaxAttempts != 5 {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Pool.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Pool.Workers)
	}
	if len(cfg.Pool.Capabilities) != 2 || cfg.Pool.Capabilities[0] != "backend" {
		t.Errorf("capabilities = %v", cfg.Pool.Capabilities)
	}
	if cfg.Supervisor.MaxRetries != 1 {
		t.Errorf("supervisor max_retries = %d, want 1", cfg.Supervisor.MaxRetries)
	}
	if len(cfg.Tools.Deny) != 1 || cfg.Tools.Deny[0] != "Bash" {
		t.Errorf("tools deny = %v", cfg.Tools.Deny)
	}
	// Unset keys keep defaults.
	if cfg.Pool.Capacity != 1 {
		t.Errorf("capacity = %d, want default 1", cfg.Pool.Capacity)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadFromPathExpandsWorkspace(t *testing.T) {
	t.Setenv("HIVE_TEST_WS", "/srv/hive")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workspace: ${HIVE_TEST_WS}/project\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Workspace != "/srv/hive/project" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Binary = "/opt/claude"
	cfg.Pool.Workers = 8
	cfg.Tools.Deny = []string{"Bash"}

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Binary != "/opt/claude" || loaded.Pool.Workers != 8 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if len(loaded.Tools.Deny) != 1 || loaded.Tools.Deny[0] != "Bash" {
		t.Errorf("tools deny = %v", loaded.Tools.Deny)
	}
}
