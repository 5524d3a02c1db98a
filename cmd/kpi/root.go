// ABOUTME: Root Cobra command for the kpi CLI.
// ABOUTME: Loads config and opens the storage backend via PersistentPre/PostRunE.
package main

import (
	"fmt"

	"github.com/harperreed/kpi/internal/config"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/logger"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/spf13/cobra"
)

var (
	cfg  *config.Config
	repo storage.Repository
	svc  *engine.Service
	log  *logger.Logger

	flagBackend string
	flagDataDir string
	flagLogMode string
)

var rootCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Business metric store and calculation engine",
	Long: `kpi tracks monthly business metrics and derives calculated metrics from them.

METRICS:

  Native metrics hold one value per month, entered by hand or written by a
  sync job. Calculated metrics derive their values from other metrics with
  a formula:

    division, multiplication, difference     two operands
    sum                                      two or more operands
    cumulative, year_to_date                 running totals of one metric
    rolling_average                          trailing mean over N months
    percentage_change                        month over month growth

  A stored value always wins over the computed one, so any month of a
  calculated metric can be overridden.

QUICK START:

  $ kpi category add Sales
  $ kpi metric add sales "Won Deals"
  $ kpi metric add sales "Total Deals"
  $ kpi metric add-calc sales "Win Rate" --type division \
      --numerator "Won Deals" --denominator "Total Deals" --x100 --format percentage
  $ kpi value set "Won Deals" 2024-01 12
  $ kpi series "Win Rate" --from 2024-01 --to 2024-12 -g quarter
  $ kpi overview sales

INTEGRATIONS:

  kpi mcp      Model Context Protocol server for AI assistants
  kpi serve    HTTP JSON API for dashboards

DATA STORAGE:

  SQLite at ~/.local/share/kpi/kpi.db by default. Set "backend" in
  ~/.config/kpi/config.json (or KPI_BACKEND) to "badger" or "charm".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip storage init for commands that don't need it
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if cmd.Annotations["storage"] == "none" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flagBackend != "" {
			cfg.Backend = flagBackend
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		if flagLogMode != "" {
			cfg.LogMode = flagLogMode
		}

		log, err = logger.New(cfg.GetLogMode())
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		repo, err = cfg.OpenStorage()
		if err != nil {
			return fmt.Errorf("failed to open %s storage: %w", cfg.GetBackend(), err)
		}
		svc = engine.NewService(repo, log, engine.WithPreviewMonths(cfg.GetPreviewMonths()))
		log.Debug("storage opened", "backend", cfg.GetBackend(), "data_dir", cfg.GetDataDir())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeStorage()
	},
}

// closeStorage releases the repository opened by PersistentPreRunE.
func closeStorage() error {
	if log != nil {
		log.Sync()
	}
	if repo == nil {
		return nil
	}
	err := repo.Close()
	repo = nil
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "storage backend: sqlite, badger, or charm")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.local/share/kpi)")
	rootCmd.PersistentFlags().StringVar(&flagLogMode, "log", "", "log mode: quiet, dev, or prod")
}
