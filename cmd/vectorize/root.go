package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root vectorize command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vectorize",
		Short:         "vectorize - vector similarity index server",
		Long:          "vectorize hosts named vector indexes with metadata filtering, journaling and snapshots over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (vectorize.yaml)")

	root.AddCommand(
		newServeCmd(),
		newModelsCmd(),
		newVersionCmd(),
	)

	return root
}
