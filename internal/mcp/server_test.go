// ABOUTME: Tests for MCP server, tools, and resources.
// ABOUTME: Covers NewServer, tool handlers, and resource handlers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// setupTestDB creates a test database in a temp directory.
func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "kpi.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// fixture seeds a Sales category with Won and Total native metrics.
type fixture struct {
	db     *storage.DB
	server *Server
	sales  *models.Category
	won    *models.MetricDefinition
	total  *models.MetricDefinition
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)

	sales := models.NewCategory("Sales")
	if err := db.CreateCategory(ctx, sales); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	won := models.NewMetric(sales.ID, "Won")
	total := models.NewMetric(sales.ID, "Total")
	for _, m := range []*models.MetricDefinition{won, total} {
		if err := db.CreateMetric(ctx, m); err != nil {
			t.Fatalf("CreateMetric failed: %v", err)
		}
	}
	for month, vals := range map[string][2]float64{"2024-01": {3, 10}, "2024-02": {5, 20}} {
		m, _ := models.ParseMonth(month)
		_ = db.UpsertValue(ctx, models.NewManualValue(won.ID, m, models.Float(vals[0])))
		_ = db.UpsertValue(ctx, models.NewManualValue(total.ID, m, models.Float(vals[1])))
	}

	server, err := NewServer(db, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &fixture{db: db, server: server, sales: sales, won: won, total: total}
}

func (fx *fixture) addWinRate(t *testing.T) metricOutput {
	t.Helper()
	_, out, err := fx.server.handleAddCalculatedMetric(context.Background(), &mcp.CallToolRequest{}, addCalculatedMetricInput{
		Category: "sales",
		Name:     "Win Rate",
		Formula: formulaInput{
			Type:          "division",
			Numerator:     "Won",
			Denominator:   "Total",
			MultiplyBy100: true,
			Format:        "percentage",
		},
	})
	if err != nil {
		t.Fatalf("handleAddCalculatedMetric failed: %v", err)
	}
	return out
}

func TestNewServer(t *testing.T) {
	db := setupTestDB(t)

	server, err := NewServer(db, nil, engine.WithPreviewMonths(6))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.mcpServer == nil {
		t.Error("Expected non-nil mcpServer")
	}
	if server.repo == nil {
		t.Error("Expected non-nil repo")
	}
	if server.engine == nil {
		t.Error("Expected non-nil engine")
	}
}

func TestHandleAddMetric(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		input     addMetricInput
		wantErr   bool
		errSubstr string
	}{
		{
			name:  "manual metric",
			input: addMetricInput{Category: "sales", Name: "Pipeline"},
		},
		{
			name:  "synced metric",
			input: addMetricInput{Category: fx.sales.ID.String()[:8], Name: "Deals", IntegrationType: "hubspot", IntegrationField: "deals_won"},
		},
		{
			name:      "unknown category",
			input:     addMetricInput{Category: "nope", Name: "X"},
			wantErr:   true,
			errSubstr: "failed to find category",
		},
		{
			name:      "blank name",
			input:     addMetricInput{Category: "sales", Name: " "},
			wantErr:   true,
			errSubstr: "name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, output, err := fx.server.handleAddMetric(ctx, &mcp.CallToolRequest{}, tt.input)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("Expected error containing %q, got %v", tt.errSubstr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if output.ID == "" || output.Message == "" {
				t.Errorf("Incomplete output: %+v", output)
			}

			m, err := fx.db.GetMetric(ctx, tt.input.Name)
			if err != nil {
				t.Fatalf("GetMetric failed: %v", err)
			}
			if tt.input.IntegrationType != "" && m.SourceLabel != tt.input.IntegrationType {
				t.Errorf("SourceLabel = %q, want %q", m.SourceLabel, tt.input.IntegrationType)
			}
		})
	}
}

func TestHandleAddCalculatedMetric(t *testing.T) {
	fx := setupFixture(t)
	out := fx.addWinRate(t)

	m, err := fx.db.GetMetric(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("GetMetric failed: %v", err)
	}
	if !m.IsCalculated || m.Formula == nil {
		t.Fatal("Expected calculated metric with formula")
	}
	if m.Formula.NumeratorID != fx.won.ID || m.Formula.DenominatorID != fx.total.ID {
		t.Errorf("Operands not resolved: %+v", m.Formula)
	}
}

func TestHandleAddCalculatedMetricErrors(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		formula formulaInput
		want    string
	}{
		{"unknown type", formulaInput{Type: "median", Source: "Won"}, "unknown type"},
		{"missing operand", formulaInput{Type: "division", Numerator: "Won"}, "missing operands"},
		{"short sum", formulaInput{Type: "sum", Metrics: []string{"Won"}}, "at least 2"},
		{"unknown operand", formulaInput{Type: "cumulative", Source: "Nope"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := fx.server.handleAddCalculatedMetric(ctx, &mcp.CallToolRequest{}, addCalculatedMetricInput{
				Category: "sales", Name: "Bad", Formula: tt.formula,
			})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHandleSetAndClearValue(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()
	rate := fx.addWinRate(t)

	_, out, err := fx.server.handleSetValue(ctx, &mcp.CallToolRequest{}, setValueInput{
		Metric: rate.ID, Period: "2024-02", Value: models.Float(99),
	})
	if err != nil {
		t.Fatalf("handleSetValue failed: %v", err)
	}
	if !strings.Contains(out.Message, "99.00%") {
		t.Errorf("Message should show the formatted value: %q", out.Message)
	}

	_, series, err := fx.server.handleComputeSeries(ctx, &mcp.CallToolRequest{}, computeSeriesInput{
		Metric: rate.ID, From: "2024-01", To: "2024-02",
	})
	if err != nil {
		t.Fatalf("handleComputeSeries failed: %v", err)
	}
	if got := series.Points[1].Display; got != "99.00%" {
		t.Errorf("Override not applied, got %q", got)
	}

	if _, _, err := fx.server.handleClearValue(ctx, &mcp.CallToolRequest{}, clearValueInput{Metric: rate.ID, Period: "2024-02"}); err != nil {
		t.Fatalf("handleClearValue failed: %v", err)
	}
	_, series, err = fx.server.handleComputeSeries(ctx, &mcp.CallToolRequest{}, computeSeriesInput{
		Metric: rate.ID, From: "2024-01", To: "2024-02",
	})
	if err != nil {
		t.Fatalf("handleComputeSeries failed: %v", err)
	}
	if got := series.Points[1].Display; got != "25.00%" {
		t.Errorf("Expected computed value after clear, got %q", got)
	}

	_, _, err = fx.server.handleClearValue(ctx, &mcp.CallToolRequest{}, clearValueInput{Metric: rate.ID, Period: "2024-02"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound clearing twice, got %v", err)
	}
}

func TestHandleSetValueInvalidPeriod(t *testing.T) {
	fx := setupFixture(t)

	_, _, err := fx.server.handleSetValue(context.Background(), &mcp.CallToolRequest{}, setValueInput{
		Metric: "Won", Period: "February", Value: models.Float(1),
	})
	if err == nil {
		t.Error("Expected error for invalid period")
	}
}

func TestHandleComputeSeries(t *testing.T) {
	fx := setupFixture(t)

	_, out, err := fx.server.handleComputeSeries(context.Background(), &mcp.CallToolRequest{}, computeSeriesInput{
		Metric: "Total", From: "2024-01", To: "2024-03", Granularity: "quarter",
	})
	if err != nil {
		t.Fatalf("handleComputeSeries failed: %v", err)
	}
	if out.Granularity != "quarter" || len(out.Points) != 1 {
		t.Fatalf("Unexpected output: %+v", out)
	}
	if out.Points[0].Value == nil || *out.Points[0].Value != 30 {
		t.Errorf("Expected quarter sum 30, got %v", out.Points[0].Value)
	}
	if out.Points[0].Label != "Q1 2024" {
		t.Errorf("Label = %q", out.Points[0].Label)
	}
}

func TestHandleComputeSeriesBadGranularity(t *testing.T) {
	fx := setupFixture(t)

	_, _, err := fx.server.handleComputeSeries(context.Background(), &mcp.CallToolRequest{}, computeSeriesInput{
		Metric: "Total", Granularity: "fortnight",
	})
	if err == nil {
		t.Error("Expected error for unknown granularity")
	}
}

func TestHandlePreviewFormula(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	_, out, err := fx.server.handlePreviewFormula(ctx, &mcp.CallToolRequest{}, previewFormulaInput{
		Formula: formulaInput{Type: "sum", Metrics: []string{"Won", "Total"}},
		Months:  []string{"2024-02", "2024-01"},
	})
	if err != nil {
		t.Fatalf("handlePreviewFormula failed: %v", err)
	}
	if !out.Complete || len(out.Points) != 2 {
		t.Fatalf("Unexpected preview: %+v", out)
	}
	if *out.Points[0].Value != 13 || *out.Points[1].Value != 25 {
		t.Errorf("Preview values = %v, %v", *out.Points[0].Value, *out.Points[1].Value)
	}
}

func TestHandlePreviewFormulaIncomplete(t *testing.T) {
	fx := setupFixture(t)

	_, out, err := fx.server.handlePreviewFormula(context.Background(), &mcp.CallToolRequest{}, previewFormulaInput{
		Formula: formulaInput{Type: "division", Numerator: "Won"},
		Months:  []string{"2024-01"},
	})
	if err != nil {
		t.Fatalf("handlePreviewFormula failed: %v", err)
	}
	if out.Complete || out.Points[0].Value != nil {
		t.Errorf("Expected incomplete all-null preview, got %+v", out)
	}
}

func TestHandlePreviewFormulaUnknownOperand(t *testing.T) {
	fx := setupFixture(t)

	_, out, err := fx.server.handlePreviewFormula(context.Background(), &mcp.CallToolRequest{}, previewFormulaInput{
		Formula: formulaInput{Type: "division", Numerator: "Won", Denominator: "Tot"},
		Months:  []string{"2024-01"},
	})
	if err != nil {
		t.Fatalf("handlePreviewFormula failed: %v", err)
	}
	if out.Complete || out.Points[0].Value != nil {
		t.Errorf("Expected incomplete all-null preview, got %+v", out)
	}
}

func TestHandlePreviewFormulaCycle(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()
	rate := fx.addWinRate(t)

	_, _, err := fx.server.handlePreviewFormula(ctx, &mcp.CallToolRequest{}, previewFormulaInput{
		Metric:  rate.ID,
		Formula: formulaInput{Type: "cumulative", Source: rate.ID},
		Months:  []string{"2024-01"},
	})
	if !engine.IsFormulaCycle(err) {
		t.Errorf("Expected formula cycle error, got %v", err)
	}
}

func TestHandleAddCalculatedMetricRejectsCycle(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()
	rate := fx.addWinRate(t)

	_, _, err := fx.server.handleAddCalculatedMetric(ctx, &mcp.CallToolRequest{}, addCalculatedMetricInput{
		Category: "sales",
		Name:     "Rate Growth",
		Formula:  formulaInput{Type: "percentage_change", Source: rate.ID},
	})
	if err != nil {
		t.Fatalf("Acyclic formula rejected: %v", err)
	}

	rateDef, _ := fx.db.GetMetric(ctx, rate.ID)
	growth, _ := fx.db.GetMetric(ctx, "Rate Growth")
	rateDef.Formula.NumeratorID = growth.ID
	if err := fx.server.engine.CheckFormula(ctx, rateDef.ID, rateDef.Formula); !engine.IsFormulaCycle(err) {
		t.Errorf("Expected cycle through Rate Growth, got %v", err)
	}
}

func TestHandleListMetrics(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()
	fx.addWinRate(t)

	_, out, err := fx.server.handleListMetrics(ctx, &mcp.CallToolRequest{}, listMetricsInput{Category: "sales"})
	if err != nil {
		t.Fatalf("handleListMetrics failed: %v", err)
	}
	if len(out.Metrics) != 3 {
		t.Fatalf("Expected 3 metrics, got %d", len(out.Metrics))
	}

	var found bool
	for _, m := range out.Metrics {
		if m.Name == "Win Rate" {
			found = true
			if m.Formula != "Won / Total × 100" {
				t.Errorf("Formula = %q", m.Formula)
			}
		}
	}
	if !found {
		t.Error("Expected Win Rate in listing")
	}
}

func TestHandleListMetricsEmpty(t *testing.T) {
	server, _ := NewServer(setupTestDB(t), nil)

	_, out, err := server.handleListMetrics(context.Background(), &mcp.CallToolRequest{}, listMetricsInput{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Message == "" || len(out.Metrics) != 0 {
		t.Errorf("Expected empty message output, got %+v", out)
	}
}

func TestHandleDeleteMetric(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	_, out, err := fx.server.handleDeleteMetric(ctx, &mcp.CallToolRequest{}, deleteMetricInput{ID: fx.won.ID.String()[:8]})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Message == "" {
		t.Error("Expected non-empty message")
	}
	if _, err := fx.db.GetMetric(ctx, fx.won.ID.String()); err == nil {
		t.Error("Expected metric to be deleted")
	}
}

func TestHandleDeleteMetricNotFound(t *testing.T) {
	server, _ := NewServer(setupTestDB(t), nil)

	_, _, err := server.handleDeleteMetric(context.Background(), &mcp.CallToolRequest{}, deleteMetricInput{ID: "nonexistent"})
	if err == nil {
		t.Error("Expected error for nonexistent metric")
	}
}

func TestHandleMetricsResource(t *testing.T) {
	fx := setupFixture(t)
	fx.addWinRate(t)

	result, err := fx.server.handleMetricsResource(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Contents) == 0 {
		t.Fatal("Expected non-empty contents")
	}
	if result.Contents[0].URI != "kpi://metrics" {
		t.Errorf("URI = %s, want kpi://metrics", result.Contents[0].URI)
	}
	if result.Contents[0].MIMEType != "application/json" {
		t.Errorf("MIMEType = %s, want application/json", result.Contents[0].MIMEType)
	}

	var body struct {
		Count   int             `json:"count"`
		Metrics []metricSummary `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Count != 3 {
		t.Errorf("count = %d, want 3", body.Count)
	}
}

func TestHandleCategoriesResource(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	exec := models.NewCategory("Executive")
	if err := fx.db.CreateCategory(ctx, exec); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	fx.won.VisibleInCategories = append(fx.won.VisibleInCategories, exec.ID)
	fx.won.UpdatedAt = time.Now().UTC()
	if err := fx.db.UpdateMetric(ctx, fx.won); err != nil {
		t.Fatalf("UpdateMetric failed: %v", err)
	}

	result, err := fx.server.handleCategoriesResource(ctx, &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var body struct {
		Categories []categoryEntry `json:"categories"`
		Roots      int             `json:"roots"`
	}
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Roots != 2 {
		t.Errorf("roots = %d, want 2", body.Roots)
	}
	for _, c := range body.Categories {
		if c.Slug != "executive" {
			continue
		}
		if len(c.Metrics) != 1 || !c.Metrics[0].ReadOnly {
			t.Errorf("Expected Won as a read-only guest in Executive, got %+v", c.Metrics)
		}
	}
}
