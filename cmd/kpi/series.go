// ABOUTME: CLI commands that compute and display metric series.
// ABOUTME: Renders one metric or a whole category overview as a table.
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/spf13/cobra"
)

var (
	rangeFrom        string
	rangeTo          string
	rangeGranularity string
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	faintStyle  = cellStyle.Faint(true)
	errorStyle  = cellStyle.Foreground(lipgloss.Color("1"))
)

var seriesCmd = &cobra.Command{
	Use:     "series <metric>",
	Aliases: []string{"s"},
	Short:   "Show a metric's values over time",
	Long: `Compute a metric's displayed values over a date range.

Stored values win over formula results. Coarser granularities sum the
monthly values in each bucket.

RANGE:

  --from and --to accept YYYY-MM or YYYY-MM-DD. Without them the last
  twelve months are shown.

GRANULARITY:

  day, week, month (default), quarter, year

EXAMPLES:

  kpi series "Win Rate"
  kpi series Revenue --from 2024-01 --to 2024-12 -g quarter
  kpi series MRR --from 2023-01 -g year`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		periods, g, err := models.ResolvePeriods(rangeFrom, rangeTo, rangeGranularity, time.Now())
		if err != nil {
			return err
		}
		pts, err := svc.ComputeSeries(ctx, m.ID, periods, g)
		if err != nil {
			return err
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("Period", m.Name).
			StyleFunc(func(row, col int) lipgloss.Style {
				switch {
				case row == table.HeaderRow:
					return headerStyle
				case col == 0:
					return faintStyle
				default:
					return numberStyle
				}
			})
		for _, p := range pts {
			t.Row(p.Label, p.Display)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var overviewCmd = &cobra.Command{
	Use:     "overview <category>",
	Aliases: []string{"o"},
	Short:   "Show every metric of a category side by side",
	Long: `Compute all metrics visible in a category over a date range.

Guest metrics, whose home is another category, are marked read-only. A
metric caught in a formula cycle shows the error without affecting the
others.

EXAMPLES:

  kpi overview sales
  kpi overview sales --from 2024-01 --to 2024-12 -g quarter`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := repo.GetCategory(ctx, args[0])
		if err != nil {
			return err
		}
		periods, g, err := models.ResolvePeriods(rangeFrom, rangeTo, rangeGranularity, time.Now())
		if err != nil {
			return err
		}
		series, err := svc.ComputeCategory(ctx, c.ID, periods, g)
		if err != nil {
			return err
		}
		if len(series) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No metrics in %s.\n", c.Name)
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), color.New(color.Bold).Sprint(c.Name))
		fmt.Fprintln(cmd.OutOrStdout(), overviewTable(series, periods).Render())
		return nil
	},
}

// overviewTable lays out one row per metric and one column per period.
func overviewTable(series []engine.MetricSeries, periods []models.Period) *table.Table {
	headers := []string{"Metric"}
	for _, p := range periods {
		headers = append(headers, p.Label())
	}
	failed := map[int]bool{}

	t := table.New().Border(lipgloss.RoundedBorder()).Headers(headers...)
	for i, ms := range series {
		name := ms.Metric.Name
		if ms.ReadOnly {
			name += " (read-only)"
		}
		row := []string{name}
		if ms.Err != nil {
			failed[i] = true
			row = append(row, ms.Err.Error())
			for j := 1; j < len(periods); j++ {
				row = append(row, "")
			}
		} else {
			for _, p := range ms.Points {
				row = append(row, p.Display)
			}
		}
		t.Row(row...)
	}

	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case failed[row]:
			return errorStyle
		case col == 0:
			return cellStyle
		default:
			return numberStyle
		}
	})
}

// addRangeFlags registers the shared date range flags on cmd.
func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rangeFrom, "from", "", "first month or day (YYYY-MM or YYYY-MM-DD)")
	cmd.Flags().StringVar(&rangeTo, "to", "", "last month or day (YYYY-MM or YYYY-MM-DD)")
	cmd.Flags().StringVarP(&rangeGranularity, "granularity", "g", "", "day, week, month, quarter, or year")
}

func init() {
	addRangeFlags(seriesCmd)
	addRangeFlags(overviewCmd)
	rootCmd.AddCommand(seriesCmd, overviewCmd)
}
