package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"roadwatch/internal/app"
	"roadwatch/internal/config"
	"roadwatch/internal/domain"
	"roadwatch/internal/logging"
)

var (
	configPath string
	dayFlag    string
)

func main() {
	root := &cobra.Command{
		Use:          "roadwatch",
		Short:        "Crawl OSM replication archives and aggregate road-network edits",
		RunE:         run,
		SilenceUsage: true,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config (overrides "+config.PathEnv+")")
	root.Flags().StringVar(&dayFlag, "day", "", "process a single day (YYYY-MM-DD) instead of backfilling")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if configPath != "" {
		if err := os.Setenv(config.PathEnv, configPath); err != nil {
			return err
		}
	}

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	if dayFlag != "" {
		day, err := time.Parse(domain.DayFormat, dayFlag)
		if err != nil {
			logger.Error("invalid --day", "value", dayFlag, "error", err)
			return err
		}
		return application.RunDay(ctx, day)
	}

	return application.Run(ctx)
}
