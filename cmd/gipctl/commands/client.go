package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Inspect accessories connected to an adapter",
	}

	cmd.AddCommand(clientListCmd())
	cmd.AddCommand(clientShowCmd())

	return cmd
}

func clientListCmd() *cobra.Command {
	var adapterID int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accessories connected to an adapter",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var clients []clientView
			path := fmt.Sprintf("/v1/adapters/%d/clients", adapterID)
			if err := getJSON(path, &clients); err != nil {
				return fmt.Errorf("list clients: %w", err)
			}

			out, err := formatClients(clients, outputFormat)
			if err != nil {
				return fmt.Errorf("format clients: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&adapterID, "adapter", 0, "adapter id")

	return cmd
}

func clientShowCmd() *cobra.Command {
	var adapterID int

	cmd := &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show details of one connected accessory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			clientID, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("parse client id %q: %w", args[0], err)
			}

			var client clientView
			path := fmt.Sprintf("/v1/adapters/%d/clients/%d", adapterID, clientID)
			if err := getJSON(path, &client); err != nil {
				return fmt.Errorf("get client: %w", err)
			}

			out, err := formatClient(client, outputFormat)
			if err != nil {
				return fmt.Errorf("format client: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&adapterID, "adapter", 0, "adapter id")

	return cmd
}
