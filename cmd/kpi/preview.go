// ABOUTME: CLI command for previewing a draft formula without saving it.
// ABOUTME: Supports flags, a draft file, and a watch mode that re-runs on edits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/spf13/cobra"
)

// watchInterval is how often --watch checks the draft file for changes.
const watchInterval = 200 * time.Millisecond

var (
	previewMetric  string
	previewMonths  []string
	previewFile    string
	previewWatch   bool
	previewFormula formulaFlags
)

var previewCmd = &cobra.Command{
	Use:     "preview",
	Aliases: []string{"p"},
	Short:   "Evaluate a draft formula against stored data",
	Long: `Evaluate a formula over recent months without saving anything.

The draft is given with the same flags as 'kpi metric add-calc', or read
from a YAML or JSON file with --file. Operands that are not set yet yield
empty values instead of an error.

When --metric names an existing calculated metric, the draft replaces its
formula for the preview and the metric's stored overrides still apply.

DRAFT FILE:

  type: division
  numerator: Won Deals
  denominator: Total Deals
  multiply_by_100: true
  format: percentage
  decimal_places: 1

WATCH MODE:

  With --watch the file is re-read whenever it changes. Edits are debounced
  and only the newest result is printed.

EXAMPLES:

  kpi preview -t sum --metrics "New,Expansion"
  kpi preview -t rolling_average --source Revenue --window 3 --months 2024-01,2024-02
  kpi preview --metric "Win Rate" --file draft.yaml --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if previewWatch {
			if previewFile == "" {
				return fmt.Errorf("--watch requires --file")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchPreview(ctx, cmd.OutOrStdout(), previewFile, watchInterval)
		}

		refs := previewFormula.refs()
		if previewFile != "" {
			var err error
			if refs, err = readDraft(previewFile); err != nil {
				return err
			}
		}
		req, err := previewRequest(cmd.Context(), refs)
		if err != nil {
			return err
		}
		res, err := svc.Preview(cmd.Context(), req)
		if err != nil {
			return err
		}
		printPreview(cmd.OutOrStdout(), res)
		return nil
	},
}

// previewRequest resolves refs and the --metric and --months flags.
func previewRequest(ctx context.Context, refs storage.FormulaRefs) (engine.PreviewRequest, error) {
	f, err := storage.ResolveDraft(ctx, repo, refs)
	if err != nil {
		return engine.PreviewRequest{}, err
	}
	req := engine.PreviewRequest{Formula: f}
	if previewMetric != "" {
		m, err := repo.GetMetric(ctx, previewMetric)
		if err != nil {
			return engine.PreviewRequest{}, err
		}
		req.MetricID = &m.ID
	}
	for _, raw := range previewMonths {
		month, err := models.ParseMonth(raw)
		if err != nil {
			return engine.PreviewRequest{}, err
		}
		req.Months = append(req.Months, month)
	}
	return req, nil
}

func readDraft(path string) (storage.FormulaRefs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return storage.FormulaRefs{}, fmt.Errorf("failed to read draft: %w", err)
	}
	return storage.ParseFormulaRefs(raw)
}

// watchPreview prints a preview each time the draft file settles after a
// change, until ctx is cancelled.
func watchPreview(ctx context.Context, out io.Writer, path string, interval time.Duration) error {
	session := engine.NewPreviewSession(svc)
	debounce := engine.NewDebouncer(engine.DefaultDebounce)
	defer debounce.Stop()

	run := func() {
		refs, err := readDraft(path)
		if err != nil {
			color.New(color.FgRed).Fprintln(out, "✗", err)
			return
		}
		req, err := previewRequest(ctx, refs)
		if err != nil {
			color.New(color.FgRed).Fprintln(out, "✗", err)
			return
		}
		session.Run(ctx, req, func(res engine.PreviewResult, err error) {
			if err != nil {
				color.New(color.FgRed).Fprintln(out, "✗", err)
				return
			}
			fmt.Fprintln(out, color.New(color.Faint).Sprint(time.Now().Format("15:04:05")))
			printPreview(out, res)
		})
	}

	var lastMod time.Time
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to watch draft: %w", err)
		}
		if !info.ModTime().Equal(lastMod) {
			lastMod = info.ModTime()
			debounce.Trigger(run)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printPreview(out io.Writer, res engine.PreviewResult) {
	if !res.Complete {
		color.New(color.FgYellow).Fprintln(out, "Formula is incomplete; showing empty values.")
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Month", "Preview").
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
	for _, p := range res.Points {
		t.Row(p.Label, p.Display)
	}
	fmt.Fprintln(out, t.Render())
}

func init() {
	previewFormula.register(previewCmd)
	previewCmd.Flags().StringVar(&previewMetric, "metric", "", "calculated metric being edited")
	previewCmd.Flags().StringSliceVar(&previewMonths, "months", nil, "comma separated months to preview (default: trailing window)")
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "read the draft from a YAML or JSON file")
	previewCmd.Flags().BoolVarP(&previewWatch, "watch", "w", false, "re-run the preview whenever --file changes")
	rootCmd.AddCommand(previewCmd)
}
