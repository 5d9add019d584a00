// Package config resolves server configuration from defaults, an
// optional YAML file, and FLEET_* environment variables, in that
// order of precedence.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 3000
	DefaultHost           = "127.0.0.1"
	DefaultAgentCommand   = "claude"
	DefaultDebounceMs     = 1000
	DefaultPollIntervalMs = 2000
)

// WorktreeMode selects how linked worktrees are discovered.
const (
	WorktreeModeGit = "git"
	WorktreeModeDir = "dir"
)

// Config is the fully resolved server configuration.
type Config struct {
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	BasePaths []string `yaml:"base_paths"`
	StaticDir string   `yaml:"static_dir"`

	AgentCommand   string `yaml:"agent_command"`
	DebounceMs     int    `yaml:"debounce_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	WorktreeMode   string `yaml:"worktree_mode"`
	PrefsPath      string `yaml:"prefs_path"`
}

// Default returns the built-in configuration before any file or
// environment overrides.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		BasePaths:      []string{"~/.claude/projects"},
		AgentCommand:   DefaultAgentCommand,
		DebounceMs:     DefaultDebounceMs,
		PollIntervalMs: DefaultPollIntervalMs,
		WorktreeMode:   WorktreeModeGit,
	}
}

// Load resolves the configuration. path may be empty, in which case
// only defaults and the environment apply. A non-empty path that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a single-document YAML file into cfg. Environment
// references in the file body are expanded before decoding. Unknown
// keys are rejected.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("parse config %s: expected single document", path)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FLEET_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEET_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("FLEET_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("FLEET_BASE_PATHS"); v != "" {
		cfg.BasePaths = splitPaths(v)
	}
	if v := os.Getenv("FLEET_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("FLEET_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if v := os.Getenv("FLEET_DEBOUNCE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEET_DEBOUNCE_MS: %w", err)
		}
		cfg.DebounceMs = ms
	}
	if v := os.Getenv("FLEET_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEET_POLL_INTERVAL_MS: %w", err)
		}
		cfg.PollIntervalMs = ms
	}
	if v := os.Getenv("FLEET_WORKTREE_MODE"); v != "" {
		cfg.WorktreeMode = v
	}
	if v := os.Getenv("FLEET_PREFS_PATH"); v != "" {
		cfg.PrefsPath = v
	}
	return nil
}

func splitPaths(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// expandPaths resolves ~ prefixes in every configured path.
func (c *Config) expandPaths() {
	for i, p := range c.BasePaths {
		c.BasePaths[i] = ExpandHome(p)
	}
	c.StaticDir = ExpandHome(c.StaticDir)
	c.PrefsPath = ExpandHome(c.PrefsPath)
}

// ExpandHome replaces a leading ~ with the current user's home
// directory. Paths without the prefix pass through unchanged.
func ExpandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if len(c.BasePaths) == 0 {
		return fmt.Errorf("at least one base path is required")
	}
	if c.AgentCommand == "" {
		return fmt.Errorf("agent command is required")
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms must not be negative")
	}
	if c.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms must not be negative")
	}
	if c.WorktreeMode != WorktreeModeGit && c.WorktreeMode != WorktreeModeDir {
		return fmt.Errorf("worktree_mode %q is not git or dir", c.WorktreeMode)
	}
	return nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
