// Command analystctl runs the answer pipeline from a terminal and mints
// tokens for the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "analystctl",
	Short: "Ask questions and manage tokens for the analyst service",
	Long: `analystctl talks to the same pipeline as the HTTP server, using the
configuration from CONFIG_FILE (default configs/config.toml).

Available subcommands:
  ask   - Answer one question and stream it to stdout
  token - Mint a JWT for the HTTP API`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(askCmd, tokenCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
