package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/leagueofsolvers/satclient/cli/config"
)

// SetCommand returns the set command. It updates one or more config
// values in place, validating the result before writing.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Update configuration values (key=value pairs)",
		ArgsUsage: "key=value [key=value ...]",
		Flags:     []cli.Flag{ConfigFlag},
		Action:    setAction,
	}
}

func setAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("set requires at least one key=value argument", exitConfigError)
	}

	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		// A missing config file is fine for set: it bootstraps one.
		if !strings.Contains(err.Error(), "not found") {
			return cli.Exit(err.Error(), exitConfigError)
		}
		cfg = &config.Config{}
	}

	for _, arg := range c.Args().Slice() {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return cli.Exit(fmt.Sprintf("argument %q is not key=value", arg), exitConfigError)
		}
		if err := cfg.Set(key, value); err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	if raw, err := os.ReadFile(path); err == nil && strings.Contains(string(raw), "${") {
		fmt.Fprintln(os.Stderr, "Warning: saving expands ${VAR} placeholders to their current values")
	}

	if err := config.Save(cfg, path); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	fmt.Fprintf(c.App.Writer, "updated %s\n", path)
	return nil
}
