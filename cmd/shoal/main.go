package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shoal",
	Short: "Shoal - distributed object-storage node daemon",
	Long: `Shoal is the node daemon of the Shoal distributed object-storage
cluster. It keeps a local replica of the cluster map synchronized with the
map authority and drives the lifecycle of the placement groups it owns as
the topology evolves.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: format == "json"})
		metrics.SetVersion(Version)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shoal version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")

	rootCmd.AddCommand(nodeCmd)
}
