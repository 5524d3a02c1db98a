// ABOUTME: Repository implementation over a generic key/value store.
// ABOUTME: Type-prefixed keys with client-side filtering, shared by the charm and badger backends.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

const (
	CategoryPrefix = "category:"
	MetricPrefix   = "metric:"
	ValuePrefix    = "value:"
)

// KV is the byte-level store the KVStore is built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Keys() ([][]byte, error)
	Close() error
}

// ValueKey returns the key of a metric's value for one month. One key per
// (metric, month) makes every write an upsert.
func ValueKey(metricID uuid.UUID, month time.Time) string {
	return ValuePrefix + metricID.String() + ":" + models.MonthKey(month).Format("2006-01")
}

// KVStore implements Repository on top of a KV.
type KVStore struct {
	kv KV
	mu sync.RWMutex
}

// NewKVStore wraps kv.
func NewKVStore(kv KV) *KVStore {
	return &KVStore{kv: kv}
}

// Close closes the underlying KV.
func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Close()
}

// CreateCategory stores a new category, enforcing slug uniqueness.
func (s *KVStore) CreateCategory(ctx context.Context, c *models.Category) error {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	for _, e := range existing {
		if e.Slug == c.Slug {
			return fmt.Errorf("create category: slug %q already exists", c.Slug)
		}
	}
	if err := s.put(CategoryPrefix+c.ID.String(), c); err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

// GetCategory retrieves a category by slug, ID, or ID prefix.
func (s *KVStore) GetCategory(ctx context.Context, idOrSlug string) (*models.Category, error) {
	all, err := s.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	for _, c := range all {
		if c.Slug == idOrSlug {
			return c, nil
		}
	}
	var matches []*models.Category
	for _, c := range all {
		if idOrSlug != "" && strings.HasPrefix(c.ID.String(), idOrSlug) {
			matches = append(matches, c)
		}
	}
	return single(matches, idOrSlug)
}

// ListCategories returns every category ordered by sort order then name.
func (s *KVStore) ListCategories(_ context.Context) ([]*models.Category, error) {
	out, err := listByPrefix[models.Category](s, CategoryPrefix)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CreateMetric stores a new metric definition. The home category must exist.
func (s *KVStore) CreateMetric(ctx context.Context, m *models.MetricDefinition) error {
	if _, err := s.GetCategory(ctx, m.CategoryID.String()); err != nil {
		return fmt.Errorf("create metric: category %s: %w", m.CategoryID, err)
	}
	if err := s.put(MetricPrefix+m.ID.String(), m); err != nil {
		return fmt.Errorf("create metric: %w", err)
	}
	return nil
}

// GetMetric retrieves a metric by ID, ID prefix, or case-insensitive name.
func (s *KVStore) GetMetric(ctx context.Context, ref string) (*models.MetricDefinition, error) {
	all, err := s.ListMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get metric: %w", err)
	}
	var matches []*models.MetricDefinition
	for _, m := range all {
		if ref != "" && strings.HasPrefix(m.ID.String(), ref) {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		for _, m := range all {
			if strings.EqualFold(m.Name, strings.TrimSpace(ref)) {
				matches = append(matches, m)
			}
		}
	}
	return single(matches, ref)
}

// ListMetrics returns definitions ordered by sort order then name, optionally
// limited to those visible in a category.
func (s *KVStore) ListMetrics(_ context.Context, categoryID *uuid.UUID) ([]*models.MetricDefinition, error) {
	all, err := listByPrefix[models.MetricDefinition](s, MetricPrefix)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	var out []*models.MetricDefinition
	for _, m := range all {
		if categoryID != nil && !m.VisibleIn(*categoryID) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateMetric replaces a stored definition and bumps UpdatedAt.
func (s *KVStore) UpdateMetric(_ context.Context, m *models.MetricDefinition) error {
	key := MetricPrefix + m.ID.String()
	exists, err := s.has(key)
	if err != nil {
		return fmt.Errorf("update metric: %w", err)
	}
	if !exists {
		return fmt.Errorf("update metric: %w: %s", ErrNotFound, m.ID)
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.put(key, m); err != nil {
		return fmt.Errorf("update metric: %w", err)
	}
	return nil
}

// DeleteMetric removes a metric definition and all of its values.
func (s *KVStore) DeleteMetric(ctx context.Context, ref string) error {
	m, err := s.GetMetric(ctx, ref)
	if err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.kv.Keys()
	if err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	valuePrefix := []byte(ValuePrefix + m.ID.String() + ":")
	for _, key := range keys {
		if bytes.HasPrefix(key, valuePrefix) {
			if err := s.kv.Delete(key); err != nil {
				return fmt.Errorf("delete metric value: %w", err)
			}
		}
	}
	if err := s.kv.Delete([]byte(MetricPrefix + m.ID.String())); err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	return nil
}

// GetValues returns the stored rows of metricIDs within r, ordered by metric then month.
func (s *KVStore) GetValues(_ context.Context, metricIDs []uuid.UUID, r models.PeriodRange) ([]*models.MetricValue, error) {
	if len(metricIDs) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(metricIDs))
	for _, id := range metricIDs {
		want[id.String()] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}

	var out []*models.MetricValue
	for _, key := range keys {
		metricID, month, ok := parseValueKey(string(key))
		if !ok || !want[metricID] || !r.Contains(month) {
			continue
		}
		data, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get value %s: %w", key, err)
		}
		var v models.MetricValue
		if err := json.Unmarshal(data, &v); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricID != out[j].MetricID {
			return out[i].MetricID.String() < out[j].MetricID.String()
		}
		return out[i].PeriodDate.Before(out[j].PeriodDate)
	})
	return out, nil
}

// UpsertValue writes the row for the value's metric and month.
func (s *KVStore) UpsertValue(_ context.Context, v *models.MetricValue) error {
	row := *v
	row.PeriodDate = models.MonthKey(v.PeriodDate)
	if err := s.put(ValueKey(v.MetricID, v.PeriodDate), &row); err != nil {
		return fmt.Errorf("upsert value: %w", err)
	}
	return nil
}

// DeleteValue removes the stored row for metricID in month.
func (s *KVStore) DeleteValue(_ context.Context, metricID uuid.UUID, month time.Time) error {
	key := ValueKey(metricID, month)
	exists, err := s.has(key)
	if err != nil {
		return fmt.Errorf("delete value: %w", err)
	}
	if !exists {
		return fmt.Errorf("delete value: %w: %s %s", ErrNotFound, metricID.String()[:8], models.FormatMonthKey(month))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete value: %w", err)
	}
	return nil
}

// parseValueKey splits "value:<metric>:<YYYY-MM>".
func parseValueKey(key string) (string, time.Time, bool) {
	rest, ok := strings.CutPrefix(key, ValuePrefix)
	if !ok {
		return "", time.Time{}, false
	}
	metricID, month, ok := strings.Cut(rest, ":")
	if !ok {
		return "", time.Time{}, false
	}
	t, err := models.ParseMonth(month)
	if err != nil {
		return "", time.Time{}, false
	}
	return metricID, t, true
}

func (s *KVStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set([]byte(key), data)
}

func (s *KVStore) has(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.kv.Keys()
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if string(k) == key {
			return true, nil
		}
	}
	return false, nil
}

// listByPrefix decodes every value whose key starts with prefix.
func listByPrefix[T any](s *KVStore, prefix string) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.kv.Keys()
	if err != nil {
		return nil, err
	}
	var out []*T
	for _, key := range keys {
		if !bytes.HasPrefix(key, []byte(prefix)) {
			continue
		}
		data, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, &item)
	}
	return out, nil
}

func single[T any](matches []*T, ref string) (*T, error) {
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w %s: matches multiple records", ErrAmbiguousPrefix, ref)
	}
}
