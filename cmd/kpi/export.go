// ABOUTME: CLI commands for exporting and importing KPI data.
// ABOUTME: Supports JSON and YAML backups of categories, metrics, and values.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <format>",
	Short: "Export all KPI data",
	Long: `Export categories, metric definitions, and stored values.

FORMATS:

  json   Full JSON export (suitable for backup/restore)
  yaml   YAML export (human-readable)

OPTIONS:

  --output, -o   Write to file instead of stdout

EXAMPLES:

  kpi export json                  # Export all data as JSON
  kpi export json -o backup.json   # Save to file
  kpi export yaml                  # Export as YAML`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"json", "yaml"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error

		switch args[0] {
		case "json":
			data, err = storage.ExportJSON(cmd.Context(), repo)
		case "yaml":
			data, err = storage.ExportYAML(cmd.Context(), repo)
		default:
			return fmt.Errorf("unknown format: %s (use json or yaml)", args[0])
		}
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		if exportOutput != "" {
			if err := os.WriteFile(exportOutput, data, 0600); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			color.Green("✓ Exported to %s", exportOutput)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import KPI data from a JSON or YAML backup",
	Long: `Import data from a file written by 'kpi export'.

Categories and metrics with IDs that already exist cause an error; values
replace any stored value for the same metric and month.

EXAMPLES:

  kpi import backup.json
  kpi import backup.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]

		raw, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		data, err := storage.ParseExport(raw)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		if err := storage.ImportData(cmd.Context(), repo, data); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		color.Green("✓ Imported %d categories, %d metrics, %d values from %s",
			len(data.Categories), len(data.Metrics), len(data.Values), filename)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
