package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bolt "github.com/mindstand/go-bolt-connector"
	"github.com/mindstand/go-bolt-connector/cmd/query"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "seabolt",
		Short: "Bolt protocol command line client",
		Long: fmt.Sprintf(`seabolt (v%s)

Connects to a server speaking the Bolt protocol, runs statements and
reports records, timings and the raw traffic of the session.

Connection settings are read from flags, from BOLT_* environment
variables (BOLT_HOST, BOLT_PORT, BOLT_USER, BOLT_PASSWORD, BOLT_SECURE,
BOLT_ACCESS_MODE, ...) and from a .env file in the working directory.`, bolt.Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of seabolt",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "seabolt v%s\n", bolt.Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(query.RunCmd)
	RootCmd.AddCommand(query.DebugCmd)
	RootCmd.AddCommand(query.PerfCmd)
	RootCmd.AddCommand(query.PingCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
