package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

// consoleCmd launches a full-featured interactive console (completion,
// history, multi-line editing) built on github.com/reeflective/console,
// as an alternative to the line-oriented shell command for operators who
// want richer line editing while triaging a fleet of adapters.
func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Start a full-featured interactive console",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("gipctl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				return consoleRootCommand()
			})

			if err := app.Start(); err != nil {
				return fmt.Errorf("start console: %w", err)
			}

			return nil
		},
	}
}

// consoleRootCommand builds a fresh copy of the gipctl command tree for
// the console's completion engine, which regenerates commands per
// prompt cycle rather than reusing a single persistent *cobra.Command.
func consoleRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gipctl",
		Short: "gipctl console",
	}

	root.AddCommand(adapterCmd())
	root.AddCommand(clientCmd())
	root.AddCommand(versionCmd())

	return root
}
