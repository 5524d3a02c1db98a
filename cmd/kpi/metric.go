// ABOUTME: CLI commands for defining, editing, and deleting metrics.
// ABOUTME: Covers native metrics, calculated metrics, integrations, and guest categories.
package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// formulaFlags holds the flags that describe a formula draft.
type formulaFlags struct {
	kind        string
	numerator   string
	denominator string
	x100        bool
	metrics     []string
	source      string
	window      int
	format      string
	decimals    int
}

func (f *formulaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "type", "t", "", "formula type: division, multiplication, difference, sum, cumulative, year_to_date, rolling_average, percentage_change")
	cmd.Flags().StringVar(&f.numerator, "numerator", "", "numerator metric (division, multiplication, difference)")
	cmd.Flags().StringVar(&f.denominator, "denominator", "", "denominator metric (division, multiplication, difference)")
	cmd.Flags().BoolVar(&f.x100, "x100", false, "multiply a division result by 100")
	cmd.Flags().StringSliceVar(&f.metrics, "metrics", nil, "comma separated metrics to add (sum)")
	cmd.Flags().StringVar(&f.source, "source", "", "source metric (cumulative, year_to_date, rolling_average, percentage_change)")
	cmd.Flags().IntVar(&f.window, "window", 0, "window size in months (rolling_average)")
	cmd.Flags().StringVar(&f.format, "format", "", "display format: number, percentage, or currency")
	cmd.Flags().IntVar(&f.decimals, "decimals", 2, "decimal places to display")
}

func (f *formulaFlags) refs() storage.FormulaRefs {
	decimals := f.decimals
	return storage.FormulaRefs{
		Kind:          f.kind,
		Numerator:     f.numerator,
		Denominator:   f.denominator,
		MultiplyBy100: f.x100,
		Metrics:       f.metrics,
		Source:        f.source,
		WindowSize:    f.window,
		Format:        f.format,
		DecimalPlaces: &decimals,
	}
}

var (
	metricIntegration string
	metricField       string
	metricListCat     string
	visibilityAdd     []string
	visibilityRemove  []string

	addCalcFormula formulaFlags
	editFormula    formulaFlags
)

var metricCmd = &cobra.Command{
	Use:     "metric",
	Aliases: []string{"m"},
	Short:   "Manage metric definitions",
}

var metricAddCmd = &cobra.Command{
	Use:   "add <category> <name>",
	Short: "Define a native metric",
	Long: `Define a native metric whose monthly values are entered or synced.

EXAMPLES:

  kpi metric add sales "Won Deals"
  kpi metric add finance MRR --integration stripe --field mrr`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := repo.GetCategory(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to find category: %w", err)
		}
		m := models.NewMetric(c.ID, args[1])
		if metricIntegration != "" {
			m.WithIntegration(metricIntegration, metricField)
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if err := repo.CreateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to create metric: %w", err)
		}

		color.Green("✓ Added %s to %s", m.Name, c.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", color.New(color.Faint).Sprint(m.ID.String()[:8]), m.SourceLabel)
		return nil
	},
}

var metricAddCalcCmd = &cobra.Command{
	Use:   "add-calc <category> <name>",
	Short: "Define a calculated metric",
	Long: `Define a metric whose values are derived from other metrics by a formula.

Operands accept a metric ID, ID prefix, or name. The formula is rejected if
it would make a metric depend on itself, directly or through other formulas.

EXAMPLES:

  kpi metric add-calc sales "Win Rate" -t division \
      --numerator "Won Deals" --denominator "Total Deals" --x100 --format percentage
  kpi metric add-calc sales "Pipeline" -t sum --metrics "New,Expansion,Renewal"
  kpi metric add-calc finance "Revenue YTD" -t year_to_date --source Revenue --format currency
  kpi metric add-calc finance "Revenue 3M" -t rolling_average --source Revenue --window 3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := repo.GetCategory(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to find category: %w", err)
		}
		f, err := storage.ResolveFormula(ctx, repo, addCalcFormula.refs())
		if err != nil {
			return err
		}

		m := models.NewCalculatedMetric(c.ID, args[1], *f)
		if err := m.Validate(); err != nil {
			return err
		}
		if err := svc.CheckFormula(ctx, m.ID, m.Formula); err != nil {
			return err
		}
		if err := repo.CreateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to create metric: %w", err)
		}

		names, err := metricNames(cmd)
		if err != nil {
			return err
		}
		color.Green("✓ Added %s to %s", m.Name, c.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", color.New(color.Faint).Sprint(m.ID.String()[:8]), describe(m.Formula, names))
		return nil
	},
}

var metricListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List metric definitions",
	Long: `List metric definitions, optionally limited to one category.

OUTPUT FORMAT:

  Each line shows: ID  NAME  SOURCE  (FORMULA)

  Metrics shown in a category other than their home are marked "guest".

EXAMPLES:

  kpi metric list
  kpi metric list --category sales`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var categoryID *uuid.UUID
		if metricListCat != "" {
			c, err := repo.GetCategory(ctx, metricListCat)
			if err != nil {
				return fmt.Errorf("failed to find category: %w", err)
			}
			categoryID = &c.ID
		}
		metrics, err := repo.ListMetrics(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("failed to list metrics: %w", err)
		}
		if len(metrics) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No metrics found.")
			return nil
		}

		names, err := metricNames(cmd)
		if err != nil {
			return err
		}
		faint := color.New(color.Faint)
		for _, m := range metrics {
			extra := ""
			if m.Formula != nil {
				extra = faint.Sprintf(" (%s)", describe(m.Formula, names))
			}
			if categoryID != nil && m.CategoryID != *categoryID {
				extra += faint.Sprint(" guest")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s%s\n",
				faint.Sprint(m.ID.String()[:8]),
				padRight(m.Name, 24),
				m.SourceLabel,
				extra)
		}
		return nil
	},
}

var metricShowCmd = &cobra.Command{
	Use:   "show <metric>",
	Short: "Show a metric definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		c, err := repo.GetCategory(ctx, m.CategoryID.String())
		if err != nil {
			return fmt.Errorf("failed to find home category: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint(m.Name))
		fmt.Fprintf(out, "  id:        %s\n", m.ID)
		fmt.Fprintf(out, "  category:  %s\n", c.Name)
		fmt.Fprintf(out, "  source:    %s\n", m.SourceLabel)
		if m.IntegrationType != nil {
			fmt.Fprintf(out, "  sync:      %s.%s\n", *m.IntegrationType, lo.FromPtr(m.IntegrationField))
		}
		if m.Formula != nil {
			names, err := metricNames(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  formula:   %s\n", describe(m.Formula, names))
			fmt.Fprintf(out, "  format:    %s, %d decimals\n", m.Formula.DisplayFormat(), m.Formula.DecimalPlaces)
		}
		if len(m.VisibleInCategories) > 0 {
			var guests []string
			for _, id := range m.VisibleInCategories {
				if g, err := repo.GetCategory(ctx, id.String()); err == nil {
					guests = append(guests, g.Name)
				}
			}
			fmt.Fprintf(out, "  also in:   %s\n", strings.Join(guests, ", "))
		}
		return nil
	},
}

var metricRenameCmd = &cobra.Command{
	Use:   "rename <metric> <new-name>",
	Short: "Rename a metric",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		old := m.Name
		m.Name = args[1]
		if err := m.Validate(); err != nil {
			return err
		}
		if err := repo.UpdateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to rename metric: %w", err)
		}
		color.Green("✓ Renamed %s to %s", old, m.Name)
		return nil
	},
}

var metricFormulaCmd = &cobra.Command{
	Use:   "formula <metric>",
	Short: "Replace a calculated metric's formula",
	Long: `Replace the formula of a calculated metric.

Stored values of the metric are kept and still take precedence over the
new formula. Use 'kpi preview' first to check the result.

EXAMPLES:

  kpi metric formula "Win Rate" -t division --numerator Won --denominator Qualified --x100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		if !m.IsCalculated {
			return fmt.Errorf("%s is not a calculated metric", m.Name)
		}
		f, err := storage.ResolveFormula(ctx, repo, editFormula.refs())
		if err != nil {
			return err
		}
		m.Formula = f
		if err := m.Validate(); err != nil {
			return err
		}
		if err := svc.CheckFormula(ctx, m.ID, f); err != nil {
			return err
		}
		if err := repo.UpdateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to update formula: %w", err)
		}

		names, err := metricNames(cmd)
		if err != nil {
			return err
		}
		color.Green("✓ Updated %s", m.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", describe(f, names))
		return nil
	},
}

var metricIntegrationCmd = &cobra.Command{
	Use:   "integration <metric> <type> <field>",
	Short: "Wire a native metric to a sync source",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		if m.IsCalculated {
			return fmt.Errorf("%s is calculated and cannot be synced", m.Name)
		}
		m.WithIntegration(args[1], args[2])
		if err := repo.UpdateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to update metric: %w", err)
		}
		color.Green("✓ %s syncs from %s.%s", m.Name, args[1], args[2])
		return nil
	},
}

var metricVisibilityCmd = &cobra.Command{
	Use:   "visibility <metric>",
	Short: "Show a metric read-only in other categories",
	Long: `Add or remove guest categories for a metric.

A metric is editable only in its home category. In guest categories it is
shown read-only.

EXAMPLES:

  kpi metric visibility "Win Rate" --add marketing
  kpi metric visibility "Win Rate" --remove marketing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		for _, ref := range visibilityAdd {
			c, err := repo.GetCategory(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to find category %q: %w", ref, err)
			}
			if !lo.Contains(m.VisibleInCategories, c.ID) {
				m.VisibleInCategories = append(m.VisibleInCategories, c.ID)
			}
		}
		for _, ref := range visibilityRemove {
			c, err := repo.GetCategory(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to find category %q: %w", ref, err)
			}
			m.VisibleInCategories = lo.Without(m.VisibleInCategories, c.ID)
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if err := repo.UpdateMetric(ctx, m); err != nil {
			return fmt.Errorf("failed to update metric: %w", err)
		}
		color.Green("✓ %s is visible in %d other categories", m.Name, len(m.VisibleInCategories))
		return nil
	},
}

var metricDeleteCmd = &cobra.Command{
	Use:     "delete <metric>",
	Aliases: []string{"rm"},
	Short:   "Delete a metric and its values",
	Long: `Delete a metric by ID, ID prefix, or name.

CAUTION:

  This permanently deletes the metric and all of its stored values.
  Calculated metrics that reference it will show empty values.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := repo.GetMetric(ctx, args[0])
		if err != nil {
			return err
		}
		if err := repo.DeleteMetric(ctx, m.ID.String()); err != nil {
			return fmt.Errorf("failed to delete metric: %w", err)
		}
		color.Yellow("✗ Deleted %s", m.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", color.New(color.Faint).Sprint(m.ID.String()[:8]))
		return nil
	},
}

// metricNames maps every metric id to its name for formula descriptions.
func metricNames(cmd *cobra.Command) (map[uuid.UUID]string, error) {
	all, err := repo.ListMetrics(cmd.Context(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	return lo.SliceToMap(all, func(m *models.MetricDefinition) (uuid.UUID, string) {
		return m.ID, m.Name
	}), nil
}

func describe(f *models.Formula, names map[uuid.UUID]string) string {
	return f.Describe(func(id uuid.UUID) string {
		if id == uuid.Nil {
			return "?"
		}
		if name, ok := names[id]; ok {
			return name
		}
		return id.String()[:8]
	})
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

func init() {
	metricAddCmd.Flags().StringVar(&metricIntegration, "integration", "", "sync source type, e.g. stripe")
	metricAddCmd.Flags().StringVar(&metricField, "field", "", "field within the sync source")
	metricListCmd.Flags().StringVarP(&metricListCat, "category", "c", "", "only metrics visible in this category")
	metricVisibilityCmd.Flags().StringSliceVar(&visibilityAdd, "add", nil, "guest categories to add")
	metricVisibilityCmd.Flags().StringSliceVar(&visibilityRemove, "remove", nil, "guest categories to remove")
	addCalcFormula.register(metricAddCalcCmd)
	editFormula.register(metricFormulaCmd)
	_ = metricAddCalcCmd.MarkFlagRequired("type")
	_ = metricFormulaCmd.MarkFlagRequired("type")

	metricCmd.AddCommand(metricAddCmd, metricAddCalcCmd, metricListCmd, metricShowCmd,
		metricRenameCmd, metricFormulaCmd, metricIntegrationCmd, metricVisibilityCmd, metricDeleteCmd)
	rootCmd.AddCommand(metricCmd)
}
