// ABOUTME: Repository interface for KPI data storage.
// ABOUTME: Defines the contract for categories, metric definitions, and monthly values.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

var (
	// ErrNotFound is returned when no record matches an id, prefix, slug, or name.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousPrefix is returned when an id prefix matches more than one record.
	ErrAmbiguousPrefix = errors.New("ambiguous prefix")

	// ErrReadOnly is returned for writes while another process holds the store lock.
	ErrReadOnly = errors.New("cannot write: database is locked by another process (MCP server?)")
)

// Repository defines the storage interface for KPI data.
// Both the SQLite and KV backends implement it.
type Repository interface {
	// Category operations
	CreateCategory(ctx context.Context, c *models.Category) error
	GetCategory(ctx context.Context, idOrSlug string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)

	// Metric definition operations. ListMetrics with a category returns the
	// metrics homed in it plus those visible in it as guests.
	CreateMetric(ctx context.Context, m *models.MetricDefinition) error
	GetMetric(ctx context.Context, ref string) (*models.MetricDefinition, error)
	ListMetrics(ctx context.Context, categoryID *uuid.UUID) ([]*models.MetricDefinition, error)
	UpdateMetric(ctx context.Context, m *models.MetricDefinition) error
	DeleteMetric(ctx context.Context, ref string) error

	// Monthly values. UpsertValue replaces any row with the same metric and month.
	GetValues(ctx context.Context, metricIDs []uuid.UUID, r models.PeriodRange) ([]*models.MetricValue, error)
	UpsertValue(ctx context.Context, v *models.MetricValue) error
	DeleteValue(ctx context.Context, metricID uuid.UUID, month time.Time) error

	// Lifecycle
	Close() error
}

// isFullUUID reports whether ref is a complete UUID rather than a prefix.
func isFullUUID(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil && len(ref) == 36
}
