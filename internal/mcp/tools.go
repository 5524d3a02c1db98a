// ABOUTME: MCP tool implementations for KPI metrics.
// ABOUTME: Provides metric CRUD, value overrides, series computation, and formula preview.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// updatedBy marks values written through MCP.
const updatedBy = "mcp"

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_metrics",
		Description: "List metric definitions, optionally only those shown in a category",
	}, s.handleListMetrics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_metric",
		Description: "Create a native metric whose monthly values are entered or synced",
	}, s.handleAddMetric)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_calculated_metric",
		Description: "Create a calculated metric derived from other metrics by a formula",
	}, s.handleAddCalculatedMetric)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_value",
		Description: "Set a metric's value for one month as a manual override",
	}, s.handleSetValue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_value",
		Description: "Remove a stored value so a calculated metric falls back to its formula",
	}, s.handleClearValue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "compute_series",
		Description: "Compute a metric's displayed values over a date range at a granularity",
	}, s.handleComputeSeries)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "preview_formula",
		Description: "Evaluate a draft formula over recent months without saving it",
	}, s.handlePreviewFormula)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_metric",
		Description: "Delete a metric and its values by ID, ID prefix, or name",
	}, s.handleDeleteMetric)
}

// Tool input/output types

type listMetricsInput struct {
	Category string `json:"category,omitempty" jsonschema:"Category slug or ID; lists all metrics when empty"`
}

type metricSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category_id"`
	Source       string `json:"source"`
	IsCalculated bool   `json:"is_calculated"`
	Formula      string `json:"formula,omitempty"`
}

type listMetricsOutput struct {
	Metrics []metricSummary `json:"metrics"`
	Message string          `json:"message,omitempty"`
}

type addMetricInput struct {
	Category         string `json:"category" jsonschema:"Home category slug or ID"`
	Name             string `json:"name" jsonschema:"Metric name"`
	IntegrationType  string `json:"integration_type,omitempty" jsonschema:"External sync source, e.g. hubspot"`
	IntegrationField string `json:"integration_field,omitempty" jsonschema:"Field read from the sync source"`
}

type metricOutput struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type formulaInput struct {
	Type          string   `json:"type" jsonschema:"Formula type: division, multiplication, difference, sum, cumulative, year_to_date, rolling_average, percentage_change"`
	Numerator     string   `json:"numerator,omitempty" jsonschema:"Numerator or left operand metric (binary types)"`
	Denominator   string   `json:"denominator,omitempty" jsonschema:"Denominator or right operand metric (binary types)"`
	MultiplyBy100 bool     `json:"multiply_by_100,omitempty" jsonschema:"Multiply a division result by 100"`
	Metrics       []string `json:"metrics,omitempty" jsonschema:"Metrics to add together (sum, at least two)"`
	Source        string   `json:"source,omitempty" jsonschema:"Source metric (temporal types)"`
	WindowSize    int      `json:"window_size,omitempty" jsonschema:"Window in months (rolling_average, at least two)"`
	Format        string   `json:"format,omitempty" jsonschema:"Display format: number, percentage, or currency"`
	DecimalPlaces *int     `json:"decimal_places,omitempty" jsonschema:"Decimal places shown (default 2)"`
}

func (in formulaInput) refs() storage.FormulaRefs {
	return storage.FormulaRefs{
		Kind:          in.Type,
		Numerator:     in.Numerator,
		Denominator:   in.Denominator,
		MultiplyBy100: in.MultiplyBy100,
		Metrics:       in.Metrics,
		Source:        in.Source,
		WindowSize:    in.WindowSize,
		Format:        in.Format,
		DecimalPlaces: in.DecimalPlaces,
	}
}

type addCalculatedMetricInput struct {
	Category string       `json:"category" jsonschema:"Home category slug or ID"`
	Name     string       `json:"name" jsonschema:"Metric name"`
	Formula  formulaInput `json:"formula" jsonschema:"Formula operands, referenced by metric ID, ID prefix, or name"`
}

type setValueInput struct {
	Metric string   `json:"metric" jsonschema:"Metric ID, ID prefix, or name"`
	Period string   `json:"period" jsonschema:"Month as YYYY-MM"`
	Value  *float64 `json:"value" jsonschema:"The value; null stores an explicit empty override"`
}

type clearValueInput struct {
	Metric string `json:"metric" jsonschema:"Metric ID, ID prefix, or name"`
	Period string `json:"period" jsonschema:"Month as YYYY-MM"`
}

type computeSeriesInput struct {
	Metric      string `json:"metric" jsonschema:"Metric ID, ID prefix, or name"`
	From        string `json:"from,omitempty" jsonschema:"Start as YYYY-MM or YYYY-MM-DD (default 11 months ago)"`
	To          string `json:"to,omitempty" jsonschema:"End as YYYY-MM or YYYY-MM-DD (default this month)"`
	Granularity string `json:"granularity,omitempty" jsonschema:"day, week, month, quarter, or year (default month)"`
}

type seriesOutput struct {
	Metric      string         `json:"metric"`
	Granularity string         `json:"granularity"`
	Points      []engine.Point `json:"points"`
}

type previewFormulaInput struct {
	Metric  string       `json:"metric,omitempty" jsonschema:"Existing calculated metric being edited; its stored values are merged"`
	Formula formulaInput `json:"formula" jsonschema:"Draft formula; missing operands preview as empty"`
	Months  []string     `json:"months,omitempty" jsonschema:"Months to preview as YYYY-MM (default trailing window)"`
}

type previewOutput struct {
	Complete bool                  `json:"complete"`
	Points   []engine.PreviewPoint `json:"points"`
}

type deleteMetricInput struct {
	ID string `json:"id" jsonschema:"Metric ID, ID prefix, or name"`
}

type simpleOutput struct {
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) handleListMetrics(ctx context.Context, req *mcp.CallToolRequest, input listMetricsInput) (*mcp.CallToolResult, listMetricsOutput, error) {
	all, err := s.repo.ListMetrics(ctx, nil)
	if err != nil {
		return nil, listMetricsOutput{}, fmt.Errorf("failed to list metrics: %w", err)
	}
	names := make(map[uuid.UUID]string, len(all))
	for _, m := range all {
		names[m.ID] = m.Name
	}

	metrics := all
	if input.Category != "" {
		c, err := s.repo.GetCategory(ctx, input.Category)
		if err != nil {
			return nil, listMetricsOutput{}, fmt.Errorf("failed to find category: %w", err)
		}
		if metrics, err = s.repo.ListMetrics(ctx, &c.ID); err != nil {
			return nil, listMetricsOutput{}, fmt.Errorf("failed to list metrics: %w", err)
		}
	}

	if len(metrics) == 0 {
		return nil, listMetricsOutput{Metrics: []metricSummary{}, Message: "No metrics found."}, nil
	}

	out := listMetricsOutput{}
	for _, m := range metrics {
		out.Metrics = append(out.Metrics, summarize(m, names))
	}
	return nil, out, nil
}

func (s *Server) handleAddMetric(ctx context.Context, req *mcp.CallToolRequest, input addMetricInput) (*mcp.CallToolResult, metricOutput, error) {
	c, err := s.repo.GetCategory(ctx, input.Category)
	if err != nil {
		return nil, metricOutput{}, fmt.Errorf("failed to find category: %w", err)
	}

	m := models.NewMetric(c.ID, input.Name)
	if input.IntegrationType != "" {
		m.WithIntegration(input.IntegrationType, input.IntegrationField)
	}
	if err := m.Validate(); err != nil {
		return nil, metricOutput{}, err
	}
	if err := s.repo.CreateMetric(ctx, m); err != nil {
		return nil, metricOutput{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return nil, metricOutput{
		ID:      m.ID.String()[:8],
		Name:    m.Name,
		Message: fmt.Sprintf("Added metric %s in %s (ID: %s)", m.Name, c.Name, m.ID.String()[:8]),
	}, nil
}

func (s *Server) handleAddCalculatedMetric(ctx context.Context, req *mcp.CallToolRequest, input addCalculatedMetricInput) (*mcp.CallToolResult, metricOutput, error) {
	c, err := s.repo.GetCategory(ctx, input.Category)
	if err != nil {
		return nil, metricOutput{}, fmt.Errorf("failed to find category: %w", err)
	}
	f, err := storage.ResolveFormula(ctx, s.repo, input.Formula.refs())
	if err != nil {
		return nil, metricOutput{}, err
	}

	m := models.NewCalculatedMetric(c.ID, input.Name, *f)
	if err := m.Validate(); err != nil {
		return nil, metricOutput{}, err
	}
	if err := s.engine.CheckFormula(ctx, m.ID, m.Formula); err != nil {
		return nil, metricOutput{}, err
	}
	if err := s.repo.CreateMetric(ctx, m); err != nil {
		return nil, metricOutput{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return nil, metricOutput{
		ID:      m.ID.String()[:8],
		Name:    m.Name,
		Message: fmt.Sprintf("Added calculated metric %s (%s, ID: %s)", m.Name, f.Kind, m.ID.String()[:8]),
	}, nil
}

func (s *Server) handleSetValue(ctx context.Context, req *mcp.CallToolRequest, input setValueInput) (*mcp.CallToolResult, simpleOutput, error) {
	m, month, err := s.metricMonth(ctx, input.Metric, input.Period)
	if err != nil {
		return nil, simpleOutput{}, err
	}

	v := models.NewManualValue(m.ID, month, input.Value).WithUpdatedBy(updatedBy)
	if err := s.repo.UpsertValue(ctx, v); err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to set value: %w", err)
	}
	s.log.Debug("value set", "metric", m.Name, "period", models.FormatMonthKey(month))

	return nil, simpleOutput{
		Message: fmt.Sprintf("Set %s for %s to %s", m.Name, month.Format("Jan 2006"), models.FormatValue(input.Value, m.Formula)),
	}, nil
}

func (s *Server) handleClearValue(ctx context.Context, req *mcp.CallToolRequest, input clearValueInput) (*mcp.CallToolResult, simpleOutput, error) {
	m, month, err := s.metricMonth(ctx, input.Metric, input.Period)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	if err := s.repo.DeleteValue(ctx, m.ID, month); err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to clear value: %w", err)
	}

	return nil, simpleOutput{
		Message: fmt.Sprintf("Cleared %s for %s", m.Name, month.Format("Jan 2006")),
	}, nil
}

func (s *Server) handleComputeSeries(ctx context.Context, req *mcp.CallToolRequest, input computeSeriesInput) (*mcp.CallToolResult, seriesOutput, error) {
	m, err := s.repo.GetMetric(ctx, input.Metric)
	if err != nil {
		return nil, seriesOutput{}, fmt.Errorf("failed to find metric: %w", err)
	}
	periods, g, err := models.ResolvePeriods(input.From, input.To, input.Granularity, time.Now())
	if err != nil {
		return nil, seriesOutput{}, err
	}

	pts, err := s.engine.ComputeSeries(ctx, m.ID, periods, g)
	if err != nil {
		return nil, seriesOutput{}, err
	}
	return nil, seriesOutput{Metric: m.Name, Granularity: string(g), Points: pts}, nil
}

func (s *Server) handlePreviewFormula(ctx context.Context, req *mcp.CallToolRequest, input previewFormulaInput) (*mcp.CallToolResult, previewOutput, error) {
	f, err := storage.ResolveDraft(ctx, s.repo, input.Formula.refs())
	if err != nil {
		return nil, previewOutput{}, err
	}

	preq := engine.PreviewRequest{Formula: f}
	if input.Metric != "" {
		m, err := s.repo.GetMetric(ctx, input.Metric)
		if err != nil {
			return nil, previewOutput{}, fmt.Errorf("failed to find metric: %w", err)
		}
		preq.MetricID = &m.ID
	}
	for _, raw := range input.Months {
		month, err := models.ParseMonth(raw)
		if err != nil {
			return nil, previewOutput{}, err
		}
		preq.Months = append(preq.Months, month)
	}

	res, err := s.engine.Preview(ctx, preq)
	if err != nil {
		return nil, previewOutput{}, err
	}
	return nil, previewOutput{Complete: res.Complete, Points: res.Points}, nil
}

func (s *Server) handleDeleteMetric(ctx context.Context, req *mcp.CallToolRequest, input deleteMetricInput) (*mcp.CallToolResult, simpleOutput, error) {
	if err := s.repo.DeleteMetric(ctx, input.ID); err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to delete metric: %w", err)
	}

	return nil, simpleOutput{
		Message: fmt.Sprintf("Deleted metric: %s", input.ID),
	}, nil
}

// metricMonth resolves a metric reference and a YYYY-MM month.
func (s *Server) metricMonth(ctx context.Context, ref, period string) (*models.MetricDefinition, time.Time, error) {
	m, err := s.repo.GetMetric(ctx, ref)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to find metric: %w", err)
	}
	month, err := models.ParseMonth(period)
	if err != nil {
		return nil, time.Time{}, err
	}
	return m, month, nil
}

func summarize(m *models.MetricDefinition, names map[uuid.UUID]string) metricSummary {
	out := metricSummary{
		ID:           m.ID.String(),
		Name:         m.Name,
		Category:     m.CategoryID.String(),
		Source:       m.SourceLabel,
		IsCalculated: m.IsCalculated,
	}
	if m.Formula != nil {
		out.Formula = m.Formula.Describe(func(id uuid.UUID) string {
			if n, ok := names[id]; ok {
				return n
			}
			return id.String()[:8]
		})
	}
	return out
}
