package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bundlercore",
	Short: "An ERC-4337 bundler core: mempool, validation, gas estimation, and bundling over a JSON-RPC API",
}

// Execute runs the root command, generalizing the teacher's senduserop script entrypoint
// to a real cobra root command with a start subcommand, per spec.md's ambient-stack CLI
// expansion.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
}
