package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

var (
	// client is the PIM service client, initialized in PersistentPreRunE.
	client *pimapi.Client

	// outputFormat controls the output format for all commands (table, json or yaml).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC connection.
	serverAddr string

	// timeout bounds every RPC.
	timeout time.Duration
)

// rootCmd is the top-level cobra command for pimctl.
var rootCmd = &cobra.Command{
	Use:   "pimctl",
	Short: "CLI client for the pimd daemon",
	Long:  "pimctl communicates with the pimd daemon via ConnectRPC to inspect PIM instances.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = pimapi.NewClient(
			&http.Client{Timeout: timeout},
			"http://"+serverAddr,
		)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50052",
		"pimd daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"request timeout")

	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(ssmCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
