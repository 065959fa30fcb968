package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "fleetd",
		Short: "Service fleet lifecycle orchestrator",
		Long: `Fleetd supervises a fleet of long-running services: it starts them in
dependency order, gates readiness on health probes, restarts crashed
services with exponential backoff, and aggregates their output.

Examples:
  fleetd serve --config=fleet.toml        # Start the daemon
  fleetd status                           # Fleet status via the daemon API
  fleetd restart --name=api               # Restart one service
  fleetd logs --name=api -n 50            # Recent captured output`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&apiFlags.URL, "api-url", "http://localhost:8080/api", "daemon API base URL")
	root.PersistentFlags().DurationVar(&apiFlags.Timeout, "api-timeout", 10*time.Second, "daemon API request timeout")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createRestartCommand(apiFlags),
		createLogsCommand(apiFlags),
		createHistoryCommand(apiFlags),
	)
	return root
}
