// ABOUTME: CLI commands for writing monthly metric values.
// ABOUTME: Manual overrides via set/clear and bulk synced rows via CSV import.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/spf13/cobra"
)

const cliUpdatedBy = "cli"

var valueImportBy string

var valueCmd = &cobra.Command{
	Use:     "value",
	Aliases: []string{"v"},
	Short:   "Set, clear, or import monthly values",
}

var valueSetCmd = &cobra.Command{
	Use:   "set <metric> <period> <value>",
	Short: "Store a manual value for one month",
	Long: `Store a manual value for a metric in one month.

The period is YYYY-MM (or any date in the month). The value "null" stores
an explicit empty value, which also hides a calculated metric's result.

EXAMPLES:

  kpi value set "Won Deals" 2024-03 14
  kpi value set "Win Rate" 2024-03 42.5     # override the formula
  kpi value set "Win Rate" 2024-04 null     # force an empty month`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		month, err := models.ParseMonth(args[1])
		if err != nil {
			return err
		}
		var value *float64
		if args[2] != "null" {
			f, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid value: %s", args[2])
			}
			value = &f
		}

		v := models.NewManualValue(m.ID, month, value).WithUpdatedBy(cliUpdatedBy)
		if err := repo.UpsertValue(ctx, v); err != nil {
			return fmt.Errorf("failed to set value: %w", err)
		}
		color.Green("✓ %s %s = %s", m.Name, month.Format("Jan 2006"), models.FormatValue(value, m.Formula))
		return nil
	},
}

var valueClearCmd = &cobra.Command{
	Use:   "clear <metric> <period>",
	Short: "Remove the stored value for one month",
	Long: `Remove the stored value for a metric in one month.

For a calculated metric this drops the override so the formula result is
shown again.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		month, err := models.ParseMonth(args[1])
		if err != nil {
			return err
		}
		if err := repo.DeleteValue(ctx, m.ID, month); err != nil {
			return fmt.Errorf("failed to clear value: %w", err)
		}
		color.Yellow("✗ Cleared %s %s", m.Name, month.Format("Jan 2006"))
		return nil
	},
}

var valueImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import synced values from a CSV file",
	Long: `Import values written by an external sync job.

The file needs a header with metric, period, and value columns. Metrics
resolve by ID, prefix, or name. An empty value stores an explicit null.
Rows are marked as synced rather than manual.

EXAMPLE FILE:

  metric,period,value
  MRR,2024-01,12000
  MRR,2024-02,12750`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer func() { _ = f.Close() }()

		summary, err := storage.ImportValuesCSV(cmd.Context(), repo, f, valueImportBy)
		if err != nil {
			if summary != nil && summary.Written+summary.Cleared > 0 {
				color.Yellow("Imported %d rows before the error", summary.Written+summary.Cleared)
			}
			return fmt.Errorf("import failed: %w", err)
		}
		color.Green("✓ Imported %d values (%d empty)", summary.Written+summary.Cleared, summary.Cleared)
		return nil
	},
}

func init() {
	valueImportCmd.Flags().StringVar(&valueImportBy, "by", "sync", "recorded as the writer of each row")

	valueCmd.AddCommand(valueSetCmd, valueClearCmd, valueImportCmd)
	rootCmd.AddCommand(valueCmd)
}
