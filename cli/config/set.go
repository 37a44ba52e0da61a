package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Set applies one key=value override to the config, using dotted keys
// matching the YAML layout. Solver fields are addressed as
// solvers.<name>.<field>; setting a field on an unknown solver creates
// the entry.
func (c *Config) Set(key, value string) error {
	switch key {
	case "server.addr":
		c.Server.Addr = value
		return nil
	case "default_solver":
		if _, ok := c.Solvers[value]; !ok {
			return fmt.Errorf("default_solver %q is not configured", value)
		}
		c.DefaultSolver = value
		return nil
	case "log_level":
		c.LogLevel = value
		return nil
	case "quiet":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("quiet: %w", err)
		}
		c.Quiet = b
		return nil
	case "margin":
		return setDuration(&c.Margin, value)
	case "ack_timeout":
		return setDuration(&c.AckTimeout, value)
	case "max_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("max_retries: must be a non-negative integer")
		}
		c.MaxRetries = n
		return nil
	case "retention.backend":
		if value != "fs" && value != "s3" {
			return fmt.Errorf("retention.backend: must be fs or s3")
		}
		c.Retention.Backend = value
		return nil
	case "retention.path":
		c.Retention.Path = value
		return nil
	case "adapter.type":
		c.Adapter.Type = value
		return nil
	case "adapter.url":
		c.Adapter.URL = value
		return nil
	case "adapter.addr":
		c.Adapter.Addr = value
		return nil
	case "adapter.channel":
		c.Adapter.Channel = value
		return nil
	}

	if name, field, ok := solverKey(key); ok {
		return c.setSolverField(name, field, value)
	}

	return fmt.Errorf("unknown config key %q", key)
}

func setDuration(dst *Duration, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	dst.Duration = d
	return nil
}

func solverKey(key string) (name, field string, ok bool) {
	rest, found := strings.CutPrefix(key, "solvers.")
	if !found {
		return "", "", false
	}
	name, field, found = strings.Cut(rest, ".")
	if !found || name == "" || field == "" {
		return "", "", false
	}
	return name, field, true
}

func (c *Config) setSolverField(name, field, value string) error {
	if c.Solvers == nil {
		c.Solvers = make(map[string]SolverConfig)
	}
	s := c.Solvers[name]
	switch field {
	case "token":
		s.Token = value
	case "path":
		s.Path = value
	case "work_dir":
		s.WorkDir = value
	case "output_file":
		s.OutputFile = value
	case "args":
		s.Args = strings.Fields(value)
	default:
		return fmt.Errorf("unknown solver field %q", field)
	}
	c.Solvers[name] = s
	return nil
}
