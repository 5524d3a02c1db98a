// ABOUTME: Metric definition CRUD operations for SQLite storage.
// ABOUTME: Formulas and guest categories are stored as JSON columns.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

const metricColumns = `SELECT id, category_id, name, source_label, is_calculated, formula,
	integration_type, integration_field, visible_in, sort_order, created_at, updated_at
	FROM metric_definitions`

// CreateMetric stores a new metric definition.
func (d *DB) CreateMetric(ctx context.Context, m *models.MetricDefinition) error {
	args, err := metricArgs(m)
	if err != nil {
		return fmt.Errorf("create metric: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO metric_definitions (id, category_id, name, source_label, is_calculated, formula,
			integration_type, integration_field, visible_in, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("create metric: %w", err)
	}
	return nil
}

// GetMetric retrieves a metric by ID, ID prefix, or case-insensitive name.
func (d *DB) GetMetric(ctx context.Context, ref string) (*models.MetricDefinition, error) {
	id, err := d.resolveID(ctx, "metric_definitions", ref)
	if errors.Is(err, ErrNotFound) {
		id, err = d.resolveMetricName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	m, err := d.scanMetric(d.db.QueryRowContext(ctx, metricColumns+` WHERE id = ?`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return m, err
}

// ListMetrics returns metric definitions ordered by sort order then name.
// With a category it returns the metrics homed in or visible in that category.
func (d *DB) ListMetrics(ctx context.Context, categoryID *uuid.UUID) ([]*models.MetricDefinition, error) {
	query := metricColumns
	var args []any
	if categoryID != nil {
		query += ` WHERE category_id = ? OR EXISTS (SELECT 1 FROM json_each(visible_in) WHERE json_each.value = ?)`
		args = append(args, categoryID.String(), categoryID.String())
	}
	query += ` ORDER BY sort_order, name`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.MetricDefinition
	for rows.Next() {
		m, err := d.scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMetric replaces a stored definition and bumps UpdatedAt.
func (d *DB) UpdateMetric(ctx context.Context, m *models.MetricDefinition) error {
	m.UpdatedAt = time.Now().UTC()
	args, err := metricArgs(m)
	if err != nil {
		return fmt.Errorf("update metric: %w", err)
	}
	// id moves from first to last for the WHERE clause
	args = append(args[1:], args[0])
	result, err := d.db.ExecContext(ctx, `
		UPDATE metric_definitions SET category_id = ?, name = ?, source_label = ?, is_calculated = ?,
			formula = ?, integration_type = ?, integration_field = ?, visible_in = ?, sort_order = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update metric: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metric: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update metric: %w: %s", ErrNotFound, m.ID)
	}
	return nil
}

// DeleteMetric removes a metric definition and, by cascade, its values.
func (d *DB) DeleteMetric(ctx context.Context, ref string) error {
	m, err := d.GetMetric(ctx, ref)
	if err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "DELETE FROM metric_definitions WHERE id = ?", m.ID.String()); err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	return nil
}

func (d *DB) resolveMetricName(ctx context.Context, name string) (string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM metric_definitions WHERE lower(name) = lower(?)`, strings.TrimSpace(name))
	if err != nil {
		return "", fmt.Errorf("resolve metric name: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan metric ID: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve metric name: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w %s: matches multiple records", ErrAmbiguousPrefix, name)
	}
}

// metricArgs flattens m into column order, id first.
func metricArgs(m *models.MetricDefinition) ([]any, error) {
	var formula sql.NullString
	if m.Formula != nil {
		data, err := json.Marshal(m.Formula)
		if err != nil {
			return nil, fmt.Errorf("marshal formula: %w", err)
		}
		formula = sql.NullString{String: string(data), Valid: true}
	}
	visible := m.VisibleInCategories
	if visible == nil {
		visible = []uuid.UUID{}
	}
	visibleJSON, err := json.Marshal(visible)
	if err != nil {
		return nil, fmt.Errorf("marshal visible categories: %w", err)
	}
	return []any{
		m.ID.String(),
		m.CategoryID.String(),
		m.Name,
		m.SourceLabel,
		m.IsCalculated,
		formula,
		m.IntegrationType,
		m.IntegrationField,
		string(visibleJSON),
		m.SortOrder,
		m.CreatedAt.UTC().Format(time.RFC3339),
		m.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (d *DB) scanMetric(row rowScanner) (*models.MetricDefinition, error) {
	var m models.MetricDefinition
	var idStr, categoryStr, visible, createdAt, updatedAt string
	var formula, integrationType, integrationField sql.NullString

	err := row.Scan(&idStr, &categoryStr, &m.Name, &m.SourceLabel, &m.IsCalculated, &formula,
		&integrationType, &integrationField, &visible, &m.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan metric: %w", err)
	}

	m.ID, _ = uuid.Parse(idStr)
	m.CategoryID, _ = uuid.Parse(categoryStr)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if formula.Valid {
		var f models.Formula
		if err := json.Unmarshal([]byte(formula.String), &f); err != nil {
			return nil, fmt.Errorf("unmarshal formula for %s: %w", idStr, err)
		}
		m.Formula = &f
	}
	if integrationType.Valid {
		m.IntegrationType = &integrationType.String
	}
	if integrationField.Valid {
		m.IntegrationField = &integrationField.String
	}
	if err := json.Unmarshal([]byte(visible), &m.VisibleInCategories); err != nil {
		return nil, fmt.Errorf("unmarshal visible categories for %s: %w", idStr, err)
	}
	if len(m.VisibleInCategories) == 0 {
		m.VisibleInCategories = nil
	}
	return &m, nil
}
