// ABOUTME: Shared fixtures for engine tests.
// ABOUTME: In-memory Store with read counting and month helpers.
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	metrics []*models.MetricDefinition
	values  []*models.MetricValue
	reads   int
}

func (m *memStore) ListMetrics(_ context.Context, categoryID *uuid.UUID) ([]*models.MetricDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MetricDefinition
	for _, def := range m.metrics {
		if categoryID == nil || def.VisibleIn(*categoryID) {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *memStore) GetValues(_ context.Context, ids []uuid.UUID, r models.PeriodRange) ([]*models.MetricValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*models.MetricValue
	for _, v := range m.values {
		if want[v.MetricID] && r.Contains(v.PeriodDate) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) addMetric(def *models.MetricDefinition) *models.MetricDefinition {
	m.metrics = append(m.metrics, def)
	return def
}

func (m *memStore) set(id uuid.UUID, month string, v *float64) {
	m.values = append(m.values, models.NewManualValue(id, mustMonth(month), v))
}

func (m *memStore) synced(id uuid.UUID, month string, v *float64) {
	m.values = append(m.values, models.NewSyncedValue(id, mustMonth(month), v))
}

func mustMonth(s string) time.Time {
	t, err := models.ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return t
}

func months(s ...string) []time.Time {
	out := make([]time.Time, len(s))
	for i, m := range s {
		out[i] = mustMonth(m)
	}
	return out
}

func monthPeriods(from, to string) []models.Period {
	return models.GeneratePeriods(mustMonth(from), mustMonth(to), models.GranularityMonth)
}

func newTestService(t *testing.T, store *memStore, opts ...Option) *Service {
	t.Helper()
	require.NotNil(t, store)
	return NewService(store, nil, opts...)
}

// values extracts point values, nil stays nil.
func values(points []Point) []*float64 {
	out := make([]*float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func f(v float64) *float64 { return &v }

func requireSeries(t *testing.T, want, got []*float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if want[i] == nil {
			require.Nil(t, got[i], "index %d", i)
			continue
		}
		require.NotNil(t, got[i], "index %d", i)
		require.InDelta(t, *want[i], *got[i], 1e-9, "index %d", i)
	}
}
