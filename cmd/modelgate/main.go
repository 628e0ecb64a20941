// ModelGate: a single gateway to many LLM providers with automatic fallback.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modelgate",
	Short: "ModelGate routes generation requests across LLM providers with automatic fallback.",
	Long: `ModelGate is a provider-selection gateway for LLM APIs. It probes which
providers are configured and reachable, routes each generation request to the
highest-priority candidate, and falls back through the rest of the catalog when
a provider fails. Usage, history, and availability are exposed over HTTP.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, generateCmd, providersCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
