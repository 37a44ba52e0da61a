// Package cmd provides CLI commands for the satclient binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags across commands.
var (
	// ConfigFlag selects the config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file",
		Value:   "satclient.yaml",
	}

	// SolverFlag selects which configured solver to run.
	SolverFlag = &cli.StringFlag{
		Name:  "solver",
		Usage: "Configured solver name (defaults to default_solver)",
	}

	// QuietFlag suppresses the interactive countdown display.
	QuietFlag = &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Suppress the countdown display",
	}

	// LogLevelFlag overrides the configured log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)
