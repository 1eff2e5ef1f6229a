// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the swarm daemon.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Router configures message delivery.
	Router RouterConfig `yaml:"router"`

	// Supervisor configures process launch and shutdown.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Router     *RouterConfig     `yaml:"router,omitempty"`
	Supervisor *SupervisorConfig `yaml:"supervisor,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for swarm data. Agent homes live
	// under <root>/agents.
	Root string `yaml:"root"`

	// Tools is the host directory mounted read-only at /tools inside
	// every sandbox.
	Tools string `yaml:"tools"`

	// Shared is the host directory mounted read-write at /shared
	// inside every sandbox.
	Shared string `yaml:"shared"`

	// AgentTypes is the directory containing agent type definitions
	// (<type>.jsonc files).
	AgentTypes string `yaml:"agent_types"`

	// State is the directory holding the agent registry database and
	// the supervisor state file.
	State string `yaml:"state"`

	// Logs is where per-agent process logs are written.
	Logs string `yaml:"logs"`

	// Brain is the request/response exchange directory shared with
	// the reasoning service. Put it under Shared so agents can reach
	// it at /shared/brain. Empty disables the exchange.
	Brain string `yaml:"brain"`
}

// RouterConfig configures message delivery.
type RouterConfig struct {
	// Interval is the pause between delivery sweeps, as a duration
	// string ("1s", "500ms").
	// Default: 1s
	Interval string `yaml:"interval"`
}

// SupervisorConfig configures process launch and shutdown.
type SupervisorConfig struct {
	// MonitorInterval is how often live processes are checked for
	// silent exits, as a duration string. Default: 2s
	MonitorInterval string `yaml:"monitor_interval"`

	// ShutdownGrace is the total time budget the daemon grants each
	// agent during coordinated shutdown before escalating, as a
	// duration string. Default: 30s
	ShutdownGrace string `yaml:"shutdown_grace"`

	// LogMaxSize is the size in bytes at which a process log rotates.
	// Zero uses the built-in default.
	LogMaxSize int64 `yaml:"log_max_size"`
}

// IntervalDuration returns the parsed sweep interval.
func (r RouterConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("router.interval", r.Interval)
}

// MonitorIntervalDuration returns the parsed monitor interval.
func (s SupervisorConfig) MonitorIntervalDuration() (time.Duration, error) {
	return parseDuration("supervisor.monitor_interval", s.MonitorInterval)
}

// ShutdownGraceDuration returns the parsed shutdown grace budget.
func (s SupervisorConfig) ShutdownGraceDuration() (time.Duration, error) {
	return parseDuration("supervisor.shutdown_grace", s.ShutdownGrace)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "mind-swarm")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			Tools:      filepath.Join(defaultRoot, "tools"),
			Shared:     filepath.Join(defaultRoot, "shared"),
			AgentTypes: filepath.Join(defaultRoot, "agent-types"),
			State:      filepath.Join(defaultRoot, "state"),
			Logs:       filepath.Join(defaultRoot, "logs"),
		},
		Router: RouterConfig{
			Interval: "1s",
		},
		Supervisor: SupervisorConfig{
			MonitorInterval: "2s",
			ShutdownGrace:   "30s",
		},
	}
}

// Load loads configuration from the SWARM_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SWARM_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SWARM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SWARM_CONFIG environment variable not set; " +
			"set it to the path of your swarm.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Tools != "" {
			c.Paths.Tools = overrides.Paths.Tools
		}
		if overrides.Paths.Shared != "" {
			c.Paths.Shared = overrides.Paths.Shared
		}
		if overrides.Paths.AgentTypes != "" {
			c.Paths.AgentTypes = overrides.Paths.AgentTypes
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Logs != "" {
			c.Paths.Logs = overrides.Paths.Logs
		}
		if overrides.Paths.Brain != "" {
			c.Paths.Brain = overrides.Paths.Brain
		}
	}

	if overrides.Router != nil {
		if overrides.Router.Interval != "" {
			c.Router.Interval = overrides.Router.Interval
		}
	}

	if overrides.Supervisor != nil {
		if overrides.Supervisor.MonitorInterval != "" {
			c.Supervisor.MonitorInterval = overrides.Supervisor.MonitorInterval
		}
		if overrides.Supervisor.ShutdownGrace != "" {
			c.Supervisor.ShutdownGrace = overrides.Supervisor.ShutdownGrace
		}
		if overrides.Supervisor.LogMaxSize != 0 {
			c.Supervisor.LogMaxSize = overrides.Supervisor.LogMaxSize
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SWARM_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SWARM_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Tools = expandVars(c.Paths.Tools, vars)
	c.Paths.Shared = expandVars(c.Paths.Shared, vars)
	c.Paths.AgentTypes = expandVars(c.Paths.AgentTypes, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Brain = expandVars(c.Paths.Brain, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Tools == "" {
		errs = append(errs, fmt.Errorf("paths.tools is required"))
	}
	if c.Paths.Shared == "" {
		errs = append(errs, fmt.Errorf("paths.shared is required"))
	}
	if c.Paths.AgentTypes == "" {
		errs = append(errs, fmt.Errorf("paths.agent_types is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Logs == "" {
		errs = append(errs, fmt.Errorf("paths.logs is required"))
	}

	if _, err := c.Router.IntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Supervisor.MonitorIntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Supervisor.ShutdownGraceDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Supervisor.LogMaxSize < 0 {
		errs = append(errs, fmt.Errorf("supervisor.log_max_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DatabasePath returns the path of the agent registry database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.State, "agents.db")
}

// SupervisorStatePath returns the path of the supervisor's crash
// recovery state file.
func (c *Config) SupervisorStatePath() string {
	return filepath.Join(c.Paths.State, "supervisor.cbor")
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Tools,
		c.Paths.Shared,
		c.Paths.AgentTypes,
		c.Paths.State,
		c.Paths.Logs,
		c.Paths.Brain,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
