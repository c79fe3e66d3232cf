package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
)

var version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	config := imm.NewConfig()

	cmd := &cobra.Command{
		Use:           "bim",
		Short:         "bim selects budgeted influence-maximization seed sets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				return nil
			}
			if err := config.LoadFromFile(path); err != nil {
				return fmt.Errorf("failed to load config %s: %w", path, err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Configuration file (yaml, json or toml)")
	flags.StringP("graph", "g", "", "Edge list file, optionally gzip-compressed")
	flags.String("graph-type", "undirected", "Edge list interpretation: directed or undirected")
	flags.String("model", "icm", "Diffusion model: ic or icm")
	flags.Int("deadline", 15, "Horizon of the delayed model")
	flags.Int64("seed", 0, "Random seed (defaults to a time-based seed)")
	flags.String("log-level", "info", "Log level")
	flags.Int("workers", 0, "Number of concurrent workers (defaults to the CPU count)")
	flags.String("spread-file", "", "Precomputed singleton spreads preloaded into the CELF cache")

	bindings := map[string]string{
		"model":       "model.type",
		"deadline":    "model.deadline",
		"seed":        "algorithm.random_seed",
		"log-level":   "logging.level",
		"workers":     "performance.num_workers",
		"spread-file": "celf.spread_file",
	}
	for name, key := range bindings {
		if err := config.BindFlag(key, flags.Lookup(name)); err != nil {
			log.Fatal().Err(err).Str("flag", name).Msg("Failed to bind flag")
		}
	}

	cmd.AddCommand(seedsCmd(config))
	cmd.AddCommand(spreadCmd(config))
	cmd.AddCommand(singleSpreadCmd(config))
	cmd.AddCommand(experimentCmd(config))
	cmd.AddCommand(formatCmd(config))
	cmd.AddCommand(serveCmd(config))

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("bim failed")
	}
}
