package config

import (
	"fmt"
	"sort"
	"time"
)

// Config represents a satclient.yaml configuration file. CLI flags
// always override config values.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	DefaultSolver string                  `yaml:"default_solver,omitempty"`
	Solvers       map[string]SolverConfig `yaml:"solvers"`
	Margin        Duration                `yaml:"margin,omitempty"`
	AckTimeout    Duration                `yaml:"ack_timeout,omitempty"`
	MaxRetries    int                     `yaml:"max_retries,omitempty"`
	Quiet         bool                    `yaml:"quiet,omitempty"`
	LogLevel      string                  `yaml:"log_level,omitempty"`
	Retention     RetentionConfig         `yaml:"retention"`
	Adapter       AdapterConfig           `yaml:"adapter"`
}

// ServerConfig holds connection settings.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	AuthTimeout       Duration `yaml:"auth_timeout,omitempty"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval,omitempty"`
	IdleThreshold     Duration `yaml:"idle_threshold,omitempty"`
	BackoffBase       Duration `yaml:"backoff_base,omitempty"`
	BackoffCap        Duration `yaml:"backoff_cap,omitempty"`
}

// SolverConfig is one registered solver. Name is derived from the map
// key, not stored in the struct.
type SolverConfig struct {
	Token      string   `yaml:"token"`
	Path       string   `yaml:"path"`
	Args       []string `yaml:"args,omitempty"`
	WorkDir    string   `yaml:"work_dir,omitempty"`
	OutputFile string   `yaml:"output_file,omitempty"`
}

// RetentionConfig selects where solver runs are archived.
type RetentionConfig struct {
	Backend     string `yaml:"backend,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// AdapterConfig selects the match outcome sink.
type AdapterConfig struct {
	Type    string `yaml:"type,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
	Channel string `yaml:"channel,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in compact string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

// Validate checks the parts of the config that have no usable defaults.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Solvers) == 0 {
		return fmt.Errorf("at least one solver must be configured")
	}
	for name, s := range c.Solvers {
		if s.Token == "" {
			return fmt.Errorf("solver %q: token is required", name)
		}
		if s.Path == "" {
			return fmt.Errorf("solver %q: path is required", name)
		}
	}
	if c.DefaultSolver != "" {
		if _, ok := c.Solvers[c.DefaultSolver]; !ok {
			return fmt.Errorf("default_solver %q is not configured", c.DefaultSolver)
		}
	}
	switch c.Retention.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("retention.backend %q: must be fs or s3", c.Retention.Backend)
	}
	switch c.Adapter.Type {
	case "", "none", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type %q: must be none, webhook, or redis", c.Adapter.Type)
	}
	return nil
}

// Solver resolves a solver entry by name. An empty name selects
// default_solver, or the sole entry when exactly one is configured.
func (c *Config) Solver(name string) (string, SolverConfig, error) {
	if name == "" {
		name = c.DefaultSolver
	}
	if name == "" {
		if len(c.Solvers) == 1 {
			for n, s := range c.Solvers {
				return n, s, nil
			}
		}
		return "", SolverConfig{}, fmt.Errorf("no solver selected: set default_solver or pass --solver (configured: %v)", c.SolverNames())
	}
	s, ok := c.Solvers[name]
	if !ok {
		return "", SolverConfig{}, fmt.Errorf("solver %q is not configured (configured: %v)", name, c.SolverNames())
	}
	return name, s, nil
}

// SolverNames returns the configured solver names in sorted order.
func (c *Config) SolverNames() []string {
	names := make([]string, 0, len(c.Solvers))
	for name := range c.Solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
