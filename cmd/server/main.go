/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the fee tracker. Runs the HTTP server and
  offers offline commands for status reports and fee calculations.

COMMANDS:
  serve    Start the HTTP API and the status sweep
  status   Print every client's payment status as of a date
  fee      Calculate an expected fee without a database

STARTUP SEQUENCE (serve):
  1. Load FEES_* configuration, apply flag overrides
  2. Build the zap logger and Prometheus metrics
  3. Open the SQLite store and the document store
  4. Create the API handler and router
  5. Start the status sweep and the server with graceful shutdown

COMMAND-LINE FLAGS:
  serve --port   HTTP server port (overrides FEES_ADDR)
  serve --db     SQLite database path (overrides FEES_DB_PATH)
                 Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the status sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (FEES_SHUTDOWN_TIMEOUT)
  4. Close the database
  5. Exit

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fee-tracker",
		Short:         "401(k) advisory fee payment tracker",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(feeCmd())
	return root
}
