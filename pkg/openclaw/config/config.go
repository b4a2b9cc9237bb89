// Package config loads the OpenClaw YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/usemanusai/openclaw/pkg/openclaw/agent"
)

// AgentConfig configures the coding-agent subprocess.
type AgentConfig struct {
	// Binary is the agent executable (default: "claude").
	Binary string `yaml:"binary"`

	// Args are extra arguments passed on every invocation. The RPC mode
	// flag is forced by the runner regardless of what these say.
	Args []string `yaml:"args"`

	// Cwd is the working directory for agent runs (empty = inherit).
	Cwd string `yaml:"cwd"`

	// TimeoutSeconds bounds one run (default: 300).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// ThinkLevel requests a reasoning-effort level ("default" or empty
	// injects nothing).
	ThinkLevel string `yaml:"think_level"`
}

// Timeout returns the run timeout as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StoreConfig locates the persistent state files.
type StoreConfig struct {
	SessionsFile string `yaml:"sessions_file"`
	CronFile     string `yaml:"cron_file"`
	HistoryFile  string `yaml:"history_file"`
}

// HeartbeatConfig configures the periodic background wakeup routed through
// the pipeline as a system event.
type HeartbeatConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	Text            string `yaml:"text"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Config is the root configuration.
type Config struct {
	Agent     AgentConfig         `yaml:"agent"`
	Queue     agent.QueueConfig   `yaml:"queue"`
	Stream    agent.ReducerConfig `yaml:"stream"`
	Store     StoreConfig         `yaml:"store"`
	Heartbeat HeartbeatConfig     `yaml:"heartbeat"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// Default returns the built-in configuration, rooted under dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Agent: AgentConfig{
			Binary:         "claude",
			TimeoutSeconds: 300,
		},
		Store: StoreConfig{
			SessionsFile: filepath.Join(dataDir, "sessions.json"),
			CronFile:     filepath.Join(dataDir, "cron.json"),
			HistoryFile:  filepath.Join(dataDir, "history.db"),
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: 30,
			Text:            "Heartbeat wakeup: check for pending work.",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultDataDir returns ~/.openclaw (or ./.openclaw when the home
// directory can't be resolved).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openclaw"
	}
	return filepath.Join(home, ".openclaw")
}

// Load reads a YAML config file and fills defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default(DefaultDataDir())
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores required values a partial config file zeroed out.
func (c *Config) fillDefaults() {
	def := Default(DefaultDataDir())
	if c.Agent.Binary == "" {
		c.Agent.Binary = def.Agent.Binary
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = def.Agent.TimeoutSeconds
	}
	if c.Store.SessionsFile == "" {
		c.Store.SessionsFile = def.Store.SessionsFile
	}
	if c.Store.CronFile == "" {
		c.Store.CronFile = def.Store.CronFile
	}
	if c.Store.HistoryFile == "" {
		c.Store.HistoryFile = def.Store.HistoryFile
	}
	if c.Heartbeat.IntervalMinutes <= 0 {
		c.Heartbeat.IntervalMinutes = def.Heartbeat.IntervalMinutes
	}
	if c.Heartbeat.Text == "" {
		c.Heartbeat.Text = def.Heartbeat.Text
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}
