// Package commands implements the rtmfpctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the client used for every admin HTTP request.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the rtmfpd admin HTTP address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for rtmfpctl.
var rootCmd = &cobra.Command{
	Use:   "rtmfpctl",
	Short: "CLI client for the rtmfpd daemon",
	Long:  "rtmfpctl communicates with the rtmfpd daemon's admin HTTP surface to inspect RTMFP sessions.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:1936",
		"rtmfpd admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(healthzCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
