// ABOUTME: Metric definition, metric value, and category models.
// ABOUTME: Native metrics store values; calculated metrics derive them via a Formula.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrInvalidMetric is returned when a metric definition breaks an invariant.
var ErrInvalidMetric = errors.New("invalid metric")

// Category groups sibling metrics for an overview display.
type Category struct {
	ID        uuid.UUID  `json:"id" yaml:"id"`
	Slug      string     `json:"slug" yaml:"slug"`
	Name      string     `json:"name" yaml:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	SortOrder int        `json:"sort_order" yaml:"sort_order"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// NewCategory creates a Category with a generated UUID and a slug derived from name.
func NewCategory(name string) *Category {
	return &Category{
		ID:        uuid.New(),
		Slug:      Slugify(name),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// WithParent nests the category under parent.
func (c *Category) WithParent(parent uuid.UUID) *Category {
	c.ParentID = &parent
	return c
}

// Children returns the categories whose parent is c.
func (c *Category) Children(all []*Category) []*Category {
	return lo.Filter(all, func(o *Category, _ int) bool {
		return o.ParentID != nil && *o.ParentID == c.ID
	})
}

// MetricDefinition is a named, trackable quantity.
type MetricDefinition struct {
	ID                  uuid.UUID   `json:"id" yaml:"id"`
	CategoryID          uuid.UUID   `json:"category_id" yaml:"category_id"`
	Name                string      `json:"name" yaml:"name"`
	SourceLabel         string      `json:"source_label,omitempty" yaml:"source_label,omitempty"`
	IsCalculated        bool        `json:"is_calculated" yaml:"is_calculated"`
	Formula             *Formula    `json:"formula,omitempty" yaml:"formula,omitempty"`
	IntegrationType     *string     `json:"integration_type,omitempty" yaml:"integration_type,omitempty"`
	IntegrationField    *string     `json:"integration_field,omitempty" yaml:"integration_field,omitempty"`
	VisibleInCategories []uuid.UUID `json:"visible_in_categories,omitempty" yaml:"visible_in_categories,omitempty"`
	SortOrder           int         `json:"sort_order" yaml:"sort_order"`
	CreatedAt           time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" yaml:"updated_at"`
}

// NewMetric creates a native metric in the given home category.
func NewMetric(categoryID uuid.UUID, name string) *MetricDefinition {
	now := time.Now().UTC()
	return &MetricDefinition{
		ID:          uuid.New(),
		CategoryID:  categoryID,
		Name:        name,
		SourceLabel: "manual",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewCalculatedMetric creates a calculated metric driven by formula.
func NewCalculatedMetric(categoryID uuid.UUID, name string, formula Formula) *MetricDefinition {
	m := NewMetric(categoryID, name)
	m.SourceLabel = "calculated"
	m.IsCalculated = true
	m.Formula = &formula
	return m
}

// WithIntegration wires a native metric to an external sync source.
func (m *MetricDefinition) WithIntegration(integrationType, field string) *MetricDefinition {
	m.IntegrationType = &integrationType
	m.IntegrationField = &field
	m.SourceLabel = integrationType
	return m
}

// VisibleIn reports whether the metric is displayed in category id, either as
// its home or as a read-only guest.
func (m *MetricDefinition) VisibleIn(id uuid.UUID) bool {
	return m.CategoryID == id || lo.Contains(m.VisibleInCategories, id)
}

// Validate enforces the definition invariants.
func (m *MetricDefinition) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMetric)
	}
	if m.CategoryID == uuid.Nil {
		return fmt.Errorf("%w: home category is required", ErrInvalidMetric)
	}
	if m.IsCalculated != (m.Formula != nil) {
		return fmt.Errorf("%w: formula must be present exactly when the metric is calculated", ErrInvalidMetric)
	}
	if m.Formula != nil {
		if err := m.Formula.Validate(); err != nil {
			return err
		}
		if lo.Contains(m.Formula.OperandIDs(), m.ID) {
			return fmt.Errorf("%w: formula references its own metric", ErrInvalidMetric)
		}
	}
	if lo.Contains(m.VisibleInCategories, m.CategoryID) {
		return fmt.Errorf("%w: home category cannot also be a guest category", ErrInvalidMetric)
	}
	return nil
}

// MetricValue is the stored value of a metric for one month.
type MetricValue struct {
	MetricID         uuid.UUID `json:"metric_id" yaml:"metric_id"`
	PeriodDate       time.Time `json:"period_date" yaml:"period_date"`
	Value            *float64  `json:"value" yaml:"value"`
	IsManualOverride bool      `json:"is_manual_override" yaml:"is_manual_override"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at"`
	UpdatedBy        *string   `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
}

// NewManualValue creates a manual override row for metricID in month.
func NewManualValue(metricID uuid.UUID, month time.Time, value *float64) *MetricValue {
	return &MetricValue{
		MetricID:         metricID,
		PeriodDate:       MonthKey(month),
		Value:            value,
		IsManualOverride: true,
		UpdatedAt:        time.Now().UTC(),
	}
}

// NewSyncedValue creates a row written by an external sync job.
func NewSyncedValue(metricID uuid.UUID, month time.Time, value *float64) *MetricValue {
	v := NewManualValue(metricID, month, value)
	v.IsManualOverride = false
	return v
}

// WithUpdatedBy records who wrote the value.
func (v *MetricValue) WithUpdatedBy(who string) *MetricValue {
	v.UpdatedBy = &who
	return v
}

// Float returns a pointer to f, for building nullable values.
func Float(f float64) *float64 {
	return &f
}

// Slugify converts a name into a lowercase, dash separated slug.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteRune('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
