package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func adapterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Inspect gipd's registered adapters",
	}

	cmd.AddCommand(adapterListCmd())

	return cmd
}

func adapterListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered adapters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var adapters []adapterView
			if err := getJSON("/v1/adapters", &adapters); err != nil {
				return fmt.Errorf("list adapters: %w", err)
			}

			out, err := formatAdapters(adapters, outputFormat)
			if err != nil {
				return fmt.Errorf("format adapters: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
