// ABOUTME: Data migration between KPI storage backends.
// ABOUTME: Copies categories, metric definitions, and values from source to destination.

package storage

import (
	"context"
	"fmt"
)

// MigrateSummary holds counts of migrated entities.
type MigrateSummary struct {
	Categories int
	Metrics    int
	Values     int
}

// MigrateData copies all data from src to dst storage. Categories go first so
// metric home categories exist; values are upserted last. The destination
// should be empty before calling this function.
func MigrateData(ctx context.Context, src, dst Repository) (*MigrateSummary, error) {
	data, err := GetAllData(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	summary := &MigrateSummary{}
	for _, c := range parentsFirst(data.Categories) {
		if err := dst.CreateCategory(ctx, c); err != nil {
			return nil, fmt.Errorf("create category %s: %w", c.Slug, err)
		}
		summary.Categories++
	}
	for _, m := range data.Metrics {
		if err := dst.CreateMetric(ctx, m); err != nil {
			return nil, fmt.Errorf("create metric %s: %w", m.ID, err)
		}
		summary.Metrics++
	}
	for _, v := range data.Values {
		if err := dst.UpsertValue(ctx, v); err != nil {
			return nil, fmt.Errorf("upsert value %s: %w", v.MetricID, err)
		}
		summary.Values++
	}
	return summary, nil
}

// IsEmpty reports whether repo holds no categories and no metrics.
func IsEmpty(ctx context.Context, repo Repository) (bool, error) {
	categories, err := repo.ListCategories(ctx)
	if err != nil {
		return false, fmt.Errorf("list categories: %w", err)
	}
	metrics, err := repo.ListMetrics(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("list metrics: %w", err)
	}
	return len(categories) == 0 && len(metrics) == 0, nil
}
