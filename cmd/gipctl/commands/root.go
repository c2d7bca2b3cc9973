// Package commands implements the gipctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient issues requests against the daemon's control API.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the gipd control API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for gipctl.
var rootCmd = &cobra.Command{
	Use:   "gipctl",
	Short: "CLI client for the GIP host daemon",
	Long:  "gipctl queries the gipd daemon's control API to inspect adapters and connected accessories.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 5 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"gipd control API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(adapterCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(consoleCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func baseURL() string {
	return "http://" + serverAddr
}
