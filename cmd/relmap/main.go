// Package main provides the relmap CLI, a thin shell over package relmap for
// inspecting and editing data declared in a schema file.
//
// Usage:
//
//	relmap check                                  # Validate the declaration file
//	relmap tables                                 # List tables, indexes and relations
//	relmap sync                                   # Create missing tables and indexes
//	relmap insert <table> <json>                  # Insert one row or a list of rows
//	relmap get <table> <pk> [--with a.b,c]        # Read a row with embedded relations
//	relmap related <table> <pk> <relation>        # Read the rows related to a row
//	relmap relate create|remove|has <table> <relation> <pk> <other...>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hlop3z/relmap/internal/cli"
)

// version is set via ldflags during build: -ldflags="-X main.version=v1.0.0"
var version = "dev"

// Global flags
var (
	databaseURL string
	configFile  string
	schemaFile  string
	verbose     bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relmap",
		Short:         "Relation mapping over document tables",
		Long:          `relmap declares tables and the relations between them in a schema file and reads or edits rows with related rows embedded.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&databaseURL, "database-url", "d", "", "Database connection URL")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "relmap.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "schema", "s", "", "Path to the declaration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		checkCmd(),
		tablesCmd(),
		syncCmd(),
		insertCmd(),
		getCmd(),
		relatedCmd(),
		relateCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err))
		os.Exit(1)
	}
}
