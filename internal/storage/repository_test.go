// ABOUTME: Tests for Repository interface implementations.
// ABOUTME: Runs the same CRUD and upsert checks against SQLite and the badger KV store.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "kpi.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestKV(t *testing.T) *KVStore {
	t.Helper()

	store, err := OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open badger store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// forEachBackend runs fn against a fresh repository of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, repo Repository)) {
	backends := []struct {
		name string
		open func(t *testing.T) Repository
	}{
		{"sqlite", func(t *testing.T) Repository { return setupTestDB(t) }},
		{"badger", func(t *testing.T) Repository { return setupTestKV(t) }},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func mustMonth(t *testing.T, s string) time.Time {
	t.Helper()
	m, err := models.ParseMonth(s)
	if err != nil {
		t.Fatalf("ParseMonth(%q): %v", s, err)
	}
	return m
}

func seedCategory(t *testing.T, repo Repository, name string) *models.Category {
	t.Helper()
	c := models.NewCategory(name)
	if err := repo.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	return c
}

func seedMetric(t *testing.T, repo Repository, m *models.MetricDefinition) *models.MetricDefinition {
	t.Helper()
	if err := repo.CreateMetric(context.Background(), m); err != nil {
		t.Fatalf("CreateMetric failed: %v", err)
	}
	return m
}

func TestCategoryLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		parent := seedCategory(t, repo, "Revenue")
		child := models.NewCategory("Recurring Revenue").WithParent(parent.ID)
		if err := repo.CreateCategory(ctx, child); err != nil {
			t.Fatalf("CreateCategory failed: %v", err)
		}

		got, err := repo.GetCategory(ctx, "recurring-revenue")
		if err != nil {
			t.Fatalf("GetCategory by slug failed: %v", err)
		}
		if got.ID != child.ID {
			t.Errorf("ID mismatch: got %v, want %v", got.ID, child.ID)
		}
		if got.ParentID == nil || *got.ParentID != parent.ID {
			t.Errorf("ParentID mismatch: got %v, want %v", got.ParentID, parent.ID)
		}

		got, err = repo.GetCategory(ctx, parent.ID.String()[:8])
		if err != nil {
			t.Fatalf("GetCategory by prefix failed: %v", err)
		}
		if got.Name != "Revenue" {
			t.Errorf("Name mismatch: got %q", got.Name)
		}

		if _, err := repo.GetCategory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		all, err := repo.ListCategories(ctx)
		if err != nil {
			t.Fatalf("ListCategories failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("Expected 2 categories, got %d", len(all))
		}

		dup := models.NewCategory("Revenue")
		if err := repo.CreateCategory(ctx, dup); err == nil {
			t.Error("Expected duplicate slug to fail")
		}
	})
}

func TestMetricRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		sales := seedCategory(t, repo, "Sales")
		ops := seedCategory(t, repo, "Ops")
		deals := seedMetric(t, repo, models.NewMetric(sales.ID, "Deals").WithIntegration("hubspot", "deals_won"))
		leads := seedMetric(t, repo, models.NewMetric(sales.ID, "Leads"))

		calc := models.NewCalculatedMetric(sales.ID, "Win Rate", models.Formula{
			Kind: models.FormulaDivision, NumeratorID: deals.ID, DenominatorID: leads.ID,
			MultiplyBy100: true, Format: models.FormatPercentage, DecimalPlaces: 1,
		})
		calc.VisibleInCategories = []uuid.UUID{ops.ID}
		seedMetric(t, repo, calc)

		got, err := repo.GetMetric(ctx, calc.ID.String())
		if err != nil {
			t.Fatalf("GetMetric failed: %v", err)
		}
		if !got.IsCalculated || got.Formula == nil {
			t.Fatalf("Expected calculated metric with formula, got %+v", got)
		}
		if got.Formula.NumeratorID != deals.ID || got.Formula.DenominatorID != leads.ID {
			t.Errorf("Formula operands mismatch: %+v", got.Formula)
		}
		if !got.Formula.MultiplyBy100 || got.Formula.DecimalPlaces != 1 || got.Formula.Format != models.FormatPercentage {
			t.Errorf("Formula display mismatch: %+v", got.Formula)
		}
		if len(got.VisibleInCategories) != 1 || got.VisibleInCategories[0] != ops.ID {
			t.Errorf("VisibleInCategories mismatch: %v", got.VisibleInCategories)
		}

		byName, err := repo.GetMetric(ctx, "deals")
		if err != nil {
			t.Fatalf("GetMetric by name failed: %v", err)
		}
		if byName.ID != deals.ID || byName.IntegrationType == nil || *byName.IntegrationType != "hubspot" {
			t.Errorf("GetMetric by name returned %+v", byName)
		}

		inOps, err := repo.ListMetrics(ctx, &ops.ID)
		if err != nil {
			t.Fatalf("ListMetrics failed: %v", err)
		}
		if len(inOps) != 1 || inOps[0].ID != calc.ID {
			t.Errorf("Expected only the guest metric in ops, got %d", len(inOps))
		}
		inSales, err := repo.ListMetrics(ctx, &sales.ID)
		if err != nil {
			t.Fatalf("ListMetrics failed: %v", err)
		}
		if len(inSales) != 3 {
			t.Errorf("Expected 3 metrics in sales, got %d", len(inSales))
		}
	})
}

func TestUpdateMetric(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))

		m.Name = "Deals Won"
		m.SortOrder = 3
		if err := repo.UpdateMetric(ctx, m); err != nil {
			t.Fatalf("UpdateMetric failed: %v", err)
		}
		got, err := repo.GetMetric(ctx, m.ID.String()[:8])
		if err != nil {
			t.Fatalf("GetMetric failed: %v", err)
		}
		if got.Name != "Deals Won" || got.SortOrder != 3 {
			t.Errorf("Update not persisted: %+v", got)
		}

		ghost := models.NewMetric(cat.ID, "Ghost")
		if err := repo.UpdateMetric(ctx, ghost); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpsertValueReplacesMonth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))
		jan := mustMonth(t, "2024-01")

		if err := repo.UpsertValue(ctx, models.NewSyncedValue(m.ID, jan, models.Float(10))); err != nil {
			t.Fatalf("UpsertValue failed: %v", err)
		}
		// mid-month timestamp normalizes to the same key
		mid := time.Date(2024, 1, 17, 9, 30, 0, 0, time.UTC)
		if err := repo.UpsertValue(ctx, models.NewManualValue(m.ID, mid, models.Float(12)).WithUpdatedBy("harper")); err != nil {
			t.Fatalf("UpsertValue failed: %v", err)
		}

		rows, err := repo.GetValues(ctx, []uuid.UUID{m.ID}, models.PeriodRange{})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("Expected 1 row after upsert, got %d", len(rows))
		}
		row := rows[0]
		if row.Value == nil || *row.Value != 12 {
			t.Errorf("Value mismatch: %v", row.Value)
		}
		if !row.IsManualOverride {
			t.Error("Expected manual override flag")
		}
		if row.UpdatedBy == nil || *row.UpdatedBy != "harper" {
			t.Errorf("UpdatedBy mismatch: %v", row.UpdatedBy)
		}
		if !row.PeriodDate.Equal(jan) {
			t.Errorf("PeriodDate mismatch: got %v, want %v", row.PeriodDate, jan)
		}
	})
}

func TestStoredNullRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))

		if err := repo.UpsertValue(ctx, models.NewManualValue(m.ID, mustMonth(t, "2024-02"), nil)); err != nil {
			t.Fatalf("UpsertValue failed: %v", err)
		}
		rows, err := repo.GetValues(ctx, []uuid.UUID{m.ID}, models.PeriodRange{})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 1 || rows[0].Value != nil {
			t.Errorf("Expected one stored null row, got %+v", rows)
		}
	})
}

func TestGetValuesRange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		a := seedMetric(t, repo, models.NewMetric(cat.ID, "A"))
		b := seedMetric(t, repo, models.NewMetric(cat.ID, "B"))
		for i, month := range []string{"2023-12", "2024-01", "2024-02", "2024-03"} {
			for _, m := range []*models.MetricDefinition{a, b} {
				v := models.NewManualValue(m.ID, mustMonth(t, month), models.Float(float64(i)))
				if err := repo.UpsertValue(ctx, v); err != nil {
					t.Fatalf("UpsertValue failed: %v", err)
				}
			}
		}

		rows, err := repo.GetValues(ctx, []uuid.UUID{a.ID}, models.PeriodRange{
			From: mustMonth(t, "2024-01"), To: mustMonth(t, "2024-02"),
		})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(rows))
		}
		if !rows[0].PeriodDate.Equal(mustMonth(t, "2024-01")) || rows[0].MetricID != a.ID {
			t.Errorf("Unexpected first row %+v", rows[0])
		}

		rows, err = repo.GetValues(ctx, []uuid.UUID{a.ID, b.ID}, models.PeriodRange{To: mustMonth(t, "2023-12")})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("Expected 2 rows up to Dec, got %d", len(rows))
		}

		rows, err = repo.GetValues(ctx, nil, models.PeriodRange{})
		if err != nil || len(rows) != 0 {
			t.Errorf("Expected no rows for no ids, got %d (%v)", len(rows), err)
		}
	})
}

func TestDeleteValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))
		jan := mustMonth(t, "2024-01")
		if err := repo.UpsertValue(ctx, models.NewManualValue(m.ID, jan, models.Float(1))); err != nil {
			t.Fatalf("UpsertValue failed: %v", err)
		}

		if err := repo.DeleteValue(ctx, m.ID, jan); err != nil {
			t.Fatalf("DeleteValue failed: %v", err)
		}
		if err := repo.DeleteValue(ctx, m.ID, jan); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestDeleteMetricRemovesValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))
		keep := seedMetric(t, repo, models.NewMetric(cat.ID, "Leads"))
		for _, id := range []uuid.UUID{m.ID, keep.ID} {
			if err := repo.UpsertValue(ctx, models.NewManualValue(id, mustMonth(t, "2024-01"), models.Float(1))); err != nil {
				t.Fatalf("UpsertValue failed: %v", err)
			}
		}

		if err := repo.DeleteMetric(ctx, m.ID.String()[:8]); err != nil {
			t.Fatalf("DeleteMetric failed: %v", err)
		}
		if _, err := repo.GetMetric(ctx, m.ID.String()); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		rows, err := repo.GetValues(ctx, []uuid.UUID{m.ID, keep.ID}, models.PeriodRange{})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 1 || rows[0].MetricID != keep.ID {
			t.Errorf("Expected only the other metric's row, got %+v", rows)
		}
		if err := repo.DeleteMetric(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestConcurrentUpsertsSameMonth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		m := seedMetric(t, repo, models.NewMetric(cat.ID, "Deals"))
		jan := mustMonth(t, "2024-01")

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- repo.UpsertValue(ctx, models.NewSyncedValue(m.ID, jan, models.Float(float64(i))))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("UpsertValue failed: %v", err)
			}
		}

		rows, err := repo.GetValues(ctx, []uuid.UUID{m.ID}, models.PeriodRange{})
		if err != nil {
			t.Fatalf("GetValues failed: %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("Expected a single row for the month, got %d", len(rows))
		}
	})
}

func TestAmbiguousPrefix(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		a := models.NewMetric(cat.ID, "A")
		b := models.NewMetric(cat.ID, "B")
		a.ID = uuid.MustParse("abcd0000-0000-4000-8000-000000000001")
		b.ID = uuid.MustParse("abcd0000-0000-4000-8000-000000000002")
		seedMetric(t, repo, a)
		seedMetric(t, repo, b)

		if _, err := repo.GetMetric(ctx, "abcd"); !errors.Is(err, ErrAmbiguousPrefix) {
			t.Errorf("Expected ErrAmbiguousPrefix, got %v", err)
		}
	})
}
