package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearFleetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLEET_PORT", "FLEET_HOST", "FLEET_BASE_PATHS", "FLEET_STATIC_DIR",
		"FLEET_AGENT_COMMAND", "FLEET_DEBOUNCE_MS", "FLEET_POLL_INTERVAL_MS",
		"FLEET_WORKTREE_MODE", "FLEET_PREFS_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearFleetEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Host)
	}
	if cfg.AgentCommand != "claude" {
		t.Errorf("expected default agent command claude, got %s", cfg.AgentCommand)
	}
	if cfg.WorktreeMode != WorktreeModeGit {
		t.Errorf("expected default worktree mode git, got %s", cfg.WorktreeMode)
	}
	if len(cfg.BasePaths) != 1 {
		t.Fatalf("expected one default base path, got %v", cfg.BasePaths)
	}
	if strings.HasPrefix(cfg.BasePaths[0], "~") {
		t.Errorf("expected ~ expanded in base path, got %s", cfg.BasePaths[0])
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	clearFleetEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	content := "port: 4000\nhost: 0.0.0.0\nagent_command: my-agent\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLEET_PORT", "5000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 5000 {
		t.Errorf("expected env to override file port, got %d", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected file host 0.0.0.0, got %s", cfg.Host)
	}
	if cfg.AgentCommand != "my-agent" {
		t.Errorf("expected file agent command, got %s", cfg.AgentCommand)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearFleetEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown config key")
	}
}

func TestBasePathsEnvSplitting(t *testing.T) {
	clearFleetEnv(t)
	t.Setenv("FLEET_BASE_PATHS", "/a/projects, /b/projects,,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.BasePaths) != 2 {
		t.Fatalf("expected 2 base paths, got %v", cfg.BasePaths)
	}
	if cfg.BasePaths[0] != "/a/projects" || cfg.BasePaths[1] != "/b/projects" {
		t.Errorf("unexpected base paths: %v", cfg.BasePaths)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"no base paths", func(c *Config) { c.BasePaths = nil }},
		{"no agent", func(c *Config) { c.AgentCommand = "" }},
		{"negative debounce", func(c *Config) { c.DebounceMs = -1 }},
		{"bad worktree mode", func(c *Config) { c.WorktreeMode = "both" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("expected %s, got %s", filepath.Join(home, "x"), got)
	}
	if got := ExpandHome("/abs/x"); got != "/abs/x" {
		t.Errorf("expected passthrough, got %s", got)
	}
	if got := ExpandHome(""); got != "" {
		t.Errorf("expected empty passthrough, got %q", got)
	}
}
