package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/syncore/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncore",
		Short: "Server-driven UI state synchronization",
		Long: `syncore keeps a tree of server-side connectors in sync with a
remote client.

It serves a small demo application over WebSocket push and HTTP
long-polling, and includes a probe that drives the demo from a Go client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError prints coded errors with their registered detail.
func printError(err error) {
	var se *errors.SyncError
	if errors.As(err, &se) {
		fmt.Fprint(os.Stderr, se.Format())
		return
	}
	fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
}
