package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerudite/modelgate/internal/config"
)

var (
	providersConfigPath string
	providersLive       bool
	providersJSON       bool
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show provider configuration and availability",
	Long: `List every provider in the catalog with its configuration status.
With --live, each configured provider is probed with a minimal generation
request to verify that its credentials actually work.`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().StringVar(&providersConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	providersCmd.Flags().BoolVar(&providersLive, "live", false, "probe configured providers with a live request")
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "print statuses as JSON")
}

func runProviders(_ *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelWarn)

	cfg, err := loadConfig(providersConfigPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	statuses := sc.Prober.ProbeAll(ctx, providersLive)

	if providersJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCONFIGURED\tAVAILABLE\tMODEL\tNOTE")
	for _, st := range statuses {
		available := "-"
		if providersLive {
			available = yesNo(st.Available)
		}
		note := st.Error
		if !st.Configured && len(st.MissingEnv) > 0 {
			note = "set " + st.MissingEnv[0]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			st.Name, yesNo(st.Configured), available, st.Model, note)
	}
	return w.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
