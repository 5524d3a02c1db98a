// ABOUTME: Export and import of KPI data across any Repository.
// ABOUTME: Supports JSON and YAML documents plus CSV value imports from sync jobs.
package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"gopkg.in/yaml.v3"
)

// ExportData represents the full export format for KPI data.
type ExportData struct {
	Version    string                     `json:"version" yaml:"version"`
	ExportedAt time.Time                  `json:"exported_at" yaml:"exported_at"`
	Tool       string                     `json:"tool" yaml:"tool"`
	Categories []*models.Category         `json:"categories" yaml:"categories"`
	Metrics    []*models.MetricDefinition `json:"metrics" yaml:"metrics"`
	Values     []*models.MetricValue      `json:"values" yaml:"values"`
}

// GetAllData retrieves every category, metric, and value from repo.
func GetAllData(ctx context.Context, repo Repository) (*ExportData, error) {
	categories, err := repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	metrics, err := repo.ListMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	values, err := repo.GetValues(ctx, metricIDs(metrics), models.PeriodRange{})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}

	return &ExportData{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Tool:       "kpi",
		Categories: categories,
		Metrics:    metrics,
		Values:     values,
	}, nil
}

// ImportData writes data into repo. Parent categories are created before
// their children; values are upserted.
func ImportData(ctx context.Context, repo Repository, data *ExportData) error {
	for _, c := range parentsFirst(data.Categories) {
		if err := repo.CreateCategory(ctx, c); err != nil {
			return fmt.Errorf("import category %s: %w", c.Slug, err)
		}
	}
	for _, m := range data.Metrics {
		if err := repo.CreateMetric(ctx, m); err != nil {
			return fmt.Errorf("import metric %s: %w", m.Name, err)
		}
	}
	for _, v := range data.Values {
		if err := repo.UpsertValue(ctx, v); err != nil {
			return fmt.Errorf("import value: %w", err)
		}
	}
	return nil
}

// ExportJSON exports all data as JSON.
func ExportJSON(ctx context.Context, repo Repository) ([]byte, error) {
	data, err := GetAllData(ctx, repo)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(data, "", "  ")
}

// ExportYAML exports all data as YAML.
func ExportYAML(ctx context.Context, repo Repository) ([]byte, error) {
	data, err := GetAllData(ctx, repo)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(data)
}

// ParseExport decodes an export document. YAML is tried when the content is
// not a JSON object.
func ParseExport(raw []byte) (*ExportData, error) {
	var data ExportData
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
		return &data, nil
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal YAML: %w", err)
	}
	return &data, nil
}

// CSVImportSummary reports the outcome of ImportValuesCSV.
type CSVImportSummary struct {
	Written int
	Cleared int
}

// ImportValuesCSV upserts synced rows from a CSV with the header
// "metric,period,value". Metrics resolve by ID, prefix, or name; an empty
// value stores an explicit null. Rows are written with IsManualOverride false.
func ImportValuesCSV(ctx context.Context, repo Repository, r io.Reader, updatedBy string) (*CSVImportSummary, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"metric", "period", "value"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	summary := &CSVImportSummary{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}

		m, err := repo.GetMetric(ctx, record[cols["metric"]])
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
		month, err := models.ParseMonth(record[cols["period"]])
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
		var value *float64
		if raw := strings.TrimSpace(record[cols["value"]]); raw != "" {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return summary, fmt.Errorf("line %d: invalid value %q", line, raw)
			}
			value = &f
		}

		v := models.NewSyncedValue(m.ID, month, value)
		if updatedBy != "" {
			v.WithUpdatedBy(updatedBy)
		}
		if err := repo.UpsertValue(ctx, v); err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
		if value == nil {
			summary.Cleared++
		} else {
			summary.Written++
		}
	}
	return summary, nil
}

func metricIDs(metrics []*models.MetricDefinition) []uuid.UUID {
	ids := make([]uuid.UUID, len(metrics))
	for i, m := range metrics {
		ids[i] = m.ID
	}
	return ids
}

// parentsFirst orders categories so every parent precedes its children.
// Categories whose parent is missing from the set keep their parent reference.
func parentsFirst(categories []*models.Category) []*models.Category {
	byID := make(map[uuid.UUID]bool, len(categories))
	for _, c := range categories {
		byID[c.ID] = true
	}
	placed := make(map[uuid.UUID]bool, len(categories))
	out := make([]*models.Category, 0, len(categories))
	for len(out) < len(categories) {
		progress := false
		for _, c := range categories {
			if placed[c.ID] {
				continue
			}
			if c.ParentID == nil || !byID[*c.ParentID] || placed[*c.ParentID] {
				out = append(out, c)
				placed[c.ID] = true
				progress = true
			}
		}
		if !progress {
			// parent loop; append the rest as-is
			for _, c := range categories {
				if !placed[c.ID] {
					out = append(out, c)
					placed[c.ID] = true
				}
			}
		}
	}
	return out
}
