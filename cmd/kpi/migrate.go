// ABOUTME: CLI command for copying all data to another storage backend.
// ABOUTME: Optionally switches the configured backend once the copy succeeds.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/config"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	migrateTo     string
	migrateDryRun bool
	migrateForce  bool
	migrateSwitch bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all data to another storage backend",
	Long: `Copy categories, metric definitions, and values from the current backend
to another one.

BACKENDS:

  sqlite   Local SQLite database (default)
  badger   Local Badger key-value store
  charm    Charm KV, synced across machines over SSH

The destination must be empty unless --force is given. The source is left
untouched.

EXAMPLES:

  kpi migrate --to badger --dry-run   # Show what would be copied
  kpi migrate --to charm --switch     # Copy and make charm the default`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !lo.Contains(config.Backends, migrateTo) {
			return fmt.Errorf("unknown backend: %q", migrateTo)
		}
		if migrateTo == cfg.GetBackend() {
			return fmt.Errorf("already using %s", migrateTo)
		}

		if migrateDryRun {
			data, err := storage.GetAllData(ctx, repo)
			if err != nil {
				return err
			}
			color.Yellow("Dry run mode - no changes will be made")
			fmt.Fprintf(cmd.OutOrStdout(), "Would copy %d categories, %d metrics, %d values from %s to %s\n",
				len(data.Categories), len(data.Metrics), len(data.Values), cfg.GetBackend(), migrateTo)
			return nil
		}

		dst, err := cfg.OpenBackend(migrateTo)
		if err != nil {
			return fmt.Errorf("failed to open %s storage: %w", migrateTo, err)
		}
		defer func() { _ = dst.Close() }()

		empty, err := storage.IsEmpty(ctx, dst)
		if err != nil {
			return err
		}
		if !empty && !migrateForce {
			return fmt.Errorf("%s storage already has data (use --force to merge into it)", migrateTo)
		}

		summary, err := storage.MigrateData(ctx, repo, dst)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		color.Green("✓ Copied %d categories, %d metrics, %d values to %s",
			summary.Categories, summary.Metrics, summary.Values, migrateTo)

		if migrateSwitch {
			cfg.Backend = migrateTo
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			color.Green("✓ Default backend is now %s", migrateTo)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "destination backend: sqlite, badger, or charm")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "preview migration without making changes")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "copy even if the destination has data")
	migrateCmd.Flags().BoolVar(&migrateSwitch, "switch", false, "make the destination the configured backend")
	_ = migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}
