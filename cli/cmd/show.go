package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/leagueofsolvers/satclient/cli/config"
)

// ShowCommand returns the show command. It prints the effective config
// with tokens masked and never contacts the server.
func ShowCommand() *cli.Command {
	return &cli.Command{
		Name:   "show",
		Usage:  "Print the effective configuration",
		Flags:  []cli.Flag{ConfigFlag},
		Action: showAction,
	}
}

func showAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	fmt.Fprint(c.App.Writer, renderConfig(cfg))
	return nil
}

func renderConfig(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server:     %s\n", cfg.Server.Addr)
	if cfg.DefaultSolver != "" {
		fmt.Fprintf(&b, "default:    %s\n", cfg.DefaultSolver)
	}
	fmt.Fprintf(&b, "solvers:\n")
	for _, name := range cfg.SolverNames() {
		s := cfg.Solvers[name]
		fmt.Fprintf(&b, "  %s:\n", name)
		fmt.Fprintf(&b, "    token:  %s\n", maskToken(s.Token))
		fmt.Fprintf(&b, "    path:   %s\n", s.Path)
		if len(s.Args) > 0 {
			fmt.Fprintf(&b, "    args:   %s\n", strings.Join(s.Args, " "))
		}
	}
	if cfg.Retention.Backend != "" {
		fmt.Fprintf(&b, "retention:  %s %s\n", cfg.Retention.Backend, cfg.Retention.Path)
	}
	if cfg.Adapter.Type != "" && cfg.Adapter.Type != "none" {
		target := cfg.Adapter.URL
		if target == "" {
			target = cfg.Adapter.Addr
		}
		fmt.Fprintf(&b, "adapter:    %s %s\n", cfg.Adapter.Type, target)
	}
	return b.String()
}

// maskToken keeps enough of the token to recognize it without exposing
// the credential in terminals or pasted output.
func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
