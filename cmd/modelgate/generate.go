package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/router"
)

// Exit codes for the generate command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitBadRequest  = 2
	ExitUnavailable = 3
)

var (
	generateConfigPath  string
	generatePrompt      string
	generateSystem      string
	generateProvider    string
	generateMaxTokens   int
	generateTemperature float64
	generateTimeout     int
	generateJSON        bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Run a one-shot generation through the fallback sequence",
	Long: `Send a prompt through the provider fallback sequence and print the result.
Providers are tried in catalog priority order; pin one with --provider.

Examples:
  modelgate generate "explain CRDTs in one paragraph"
  modelgate generate -p "write a haiku about goroutines" --provider groq
  modelgate generate "summarize this" --max-tokens 256 --json

Exit codes:
  0  success
  1  every candidate provider failed
  2  invalid request (unknown or unconfigured provider)
  3  no providers configured`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "prompt to send (or pass as argument)")
	generateCmd.Flags().StringVar(&generateSystem, "system", "", "system instruction")
	generateCmd.Flags().StringVar(&generateProvider, "provider", "", "pin to a single provider (no fallback)")
	generateCmd.Flags().IntVar(&generateMaxTokens, "max-tokens", 0, "maximum output tokens (0 = configured default)")
	generateCmd.Flags().Float64Var(&generateTemperature, "temperature", 0, "sampling temperature (unset = configured default)")
	generateCmd.Flags().IntVar(&generateTimeout, "timeout", 300, "overall timeout in seconds")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "print the full result as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := generatePrompt
	if prompt == "" && len(args) > 0 {
		prompt = args[0]
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is required: pass it as an argument or with -p")
	}

	// Keep stdout clean for the generated text; warnings still reach stderr.
	logger := newLogger(slog.LevelWarn)

	cfg, err := loadConfig(generateConfigPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(generateTimeout)*time.Second)
	defer cancel()

	req := &router.Request{
		Prompt:    prompt,
		System:    generateSystem,
		Provider:  generateProvider,
		MaxTokens: generateMaxTokens,
	}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = &generateTemperature
	}

	result, err := sc.Router.Generate(ctx, req)
	if err != nil {
		var exhausted *router.ExhaustedError
		switch {
		case errors.Is(err, router.ErrNoProviders):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(ExitUnavailable)
		case errors.As(err, &exhausted):
			fmt.Fprintln(os.Stderr, "Error: all providers failed:")
			for _, a := range exhausted.Attempts {
				fmt.Fprintf(os.Stderr, "  %-12s %-16s %s\n", a.Provider, a.ErrorKind, a.Error)
			}
			os.Exit(ExitFailure)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(ExitBadRequest)
		}
	}

	if generateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Text)
	if result.Fallback {
		fmt.Fprintf(os.Stderr, "(served by %s after %d failed attempts)\n",
			result.Provider, len(result.Attempts))
	}
	return nil
}
