// Proctord runs proctored interview sessions.
//
// The daemon exposes the session API over HTTP, reaches candidate devices
// through NATS and reports answers and integrity events to the interview
// platform.
//
// Usage:
//
//	# Start the daemon with a config file
//	proctord serve --config /etc/proctord/config.yaml
//
//	# Check a question bank before deploying it
//	proctord bank validate questions.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; empty means defaults plus env.
	configPath string
	// hooksPath is the JSON hooks config file.
	hooksPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "proctord",
		Short: "Proctored interview session daemon",
		Long: `proctord drives proctored interview sessions: full-screen enforcement,
narrated questions, speech capture and integrity tracking.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(versionString() + "\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newBankCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("proctord %s (commit %s, built %s)", version, gitCommit, buildDate)
}
