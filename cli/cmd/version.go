package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leagueofsolvers/satclient/types"
)

// VersionCommand returns the version command. It must not contact the
// server.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "satclient %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
