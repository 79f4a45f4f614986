// Command relay runs the event-to-job worker described in spec.md: it
// reads a sectioned config file, wires up the catalogue/bus/coordination
// collaborators and configured adapters/executors, and drives the event
// loop until a shutdown signal or the control API's /control/shutdown is
// invoked. Grounded in the teacher's cmd/warren cobra root command
// structure (persistent log flags + cobra.OnInitialize), generalized from
// cluster subcommands to a single long-running worker process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay - event-driven product lifecycle worker",
	Long: `relay reacts to product lifecycle notifications published on a
message bus and, for each notification that matches configured filters,
produces jobs that are dispatched to an execution backend and whose
outcomes are reported back to the product catalogue.`,
	Version: fmt.Sprintf("%s (%s)", Version, Commit),
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, matching
// spec.md §5 "Cancellation": the loop stops admitting new events and
// drives in-flight jobs to a terminal state before exiting.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
