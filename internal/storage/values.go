// ABOUTME: Monthly metric value operations for SQLite storage.
// ABOUTME: Upserts on (metric_id, period_date) so concurrent writers never duplicate a month.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

// GetValues returns the stored rows of metricIDs within r, ordered by metric then month.
func (d *DB) GetValues(ctx context.Context, metricIDs []uuid.UUID, r models.PeriodRange) ([]*models.MetricValue, error) {
	if len(metricIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(metricIDs))
	args := make([]any, 0, len(metricIDs)+2)
	for i, id := range metricIDs {
		placeholders[i] = "?"
		args = append(args, id.String())
	}
	query := `SELECT metric_id, period_date, value, is_manual_override, updated_at, updated_by
		FROM metric_values
		WHERE metric_id IN (` + strings.Join(placeholders, ", ") + `)`
	if !r.From.IsZero() {
		query += ` AND period_date >= ?`
		args = append(args, models.FormatMonthKey(r.From))
	}
	if !r.To.IsZero() {
		query += ` AND period_date <= ?`
		args = append(args, models.FormatMonthKey(r.To))
	}
	query += ` ORDER BY metric_id, period_date`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	defer rows.Close()

	var out []*models.MetricValue
	for rows.Next() {
		var v models.MetricValue
		var metricID, period, updatedAt string
		var value sql.NullFloat64
		var updatedBy sql.NullString
		if err := rows.Scan(&metricID, &period, &value, &v.IsManualOverride, &updatedAt, &updatedBy); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v.MetricID, _ = uuid.Parse(metricID)
		v.PeriodDate, _ = time.Parse("2006-01-02", period)
		v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		if value.Valid {
			v.Value = models.Float(value.Float64)
		}
		if updatedBy.Valid {
			v.UpdatedBy = &updatedBy.String
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// UpsertValue inserts or replaces the row for the value's metric and month.
func (d *DB) UpsertValue(ctx context.Context, v *models.MetricValue) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metric_values (metric_id, period_date, value, is_manual_override, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(metric_id, period_date) DO UPDATE SET
			value = excluded.value,
			is_manual_override = excluded.is_manual_override,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		v.MetricID.String(),
		models.FormatMonthKey(v.PeriodDate),
		v.Value,
		v.IsManualOverride,
		v.UpdatedAt.UTC().Format(time.RFC3339),
		v.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert value: %w", err)
	}
	return nil
}

// DeleteValue removes the stored row for metricID in month, so a calculated
// metric falls back to its live result.
func (d *DB) DeleteValue(ctx context.Context, metricID uuid.UUID, month time.Time) error {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM metric_values WHERE metric_id = ? AND period_date = ?",
		metricID.String(), models.FormatMonthKey(month))
	if err != nil {
		return fmt.Errorf("delete value: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete value: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete value: %w: %s %s", ErrNotFound, metricID.String()[:8], models.FormatMonthKey(month))
	}
	return nil
}
