// Feedhive is policy-gated bot management: RSS collection, LLM analysis,
// and report publishing behind a permission and confirmation layer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feedhive",
	Short: "Feedhive, a bot platform for policy-gated RSS analysis and reporting.",
	Long: `Feedhive runs user-configured bots that collect RSS content, analyze it
with an LLM, and publish reports. Every gated operation passes through a
layered permission policy and, where required, an explicit confirmation step.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
