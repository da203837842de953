package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KentBeck/LivingObjects-sub000/vm/bundle"
)

// Version is the stvm release.
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the stvm version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stvm %s (bundle format %d)\n", Version, bundle.Version)
	},
}
