// ABOUTME: Tests for resolving metric references into formula operands.
// ABOUTME: Covers name and prefix lookup, blank operands, and unknown references.
package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

func TestResolveFormula(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		won := seedMetric(t, repo, models.NewMetric(cat.ID, "Won Deals"))
		total := seedMetric(t, repo, models.NewMetric(cat.ID, "Total Deals"))

		places := 1
		f, err := ResolveFormula(ctx, repo, FormulaRefs{
			Kind:          "Division",
			Numerator:     "won deals",
			Denominator:   total.ID.String()[:8],
			MultiplyBy100: true,
			Format:        "percentage",
			DecimalPlaces: &places,
		})
		if err != nil {
			t.Fatalf("ResolveFormula failed: %v", err)
		}
		if f.Kind != models.FormulaDivision {
			t.Errorf("Kind = %q", f.Kind)
		}
		if f.NumeratorID != won.ID || f.DenominatorID != total.ID {
			t.Errorf("operands not resolved: %+v", f)
		}
		if f.DecimalPlaces != 1 || f.Format != models.FormatPercentage {
			t.Errorf("display metadata lost: %+v", f)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("resolved formula invalid: %v", err)
		}
	})
}

func TestResolveFormulaBlankOperands(t *testing.T) {
	db := setupTestDB(t)

	f, err := ResolveFormula(context.Background(), db, FormulaRefs{Kind: "cumulative"})
	if err != nil {
		t.Fatalf("ResolveFormula failed: %v", err)
	}
	if f.SourceID != uuid.Nil || f.Complete() {
		t.Errorf("Expected incomplete draft, got %+v", f)
	}
	if f.DecimalPlaces != 2 {
		t.Errorf("Expected default 2 decimal places, got %d", f.DecimalPlaces)
	}
}

func TestResolveFormulaUnknownMetric(t *testing.T) {
	db := setupTestDB(t)

	_, err := ResolveFormula(context.Background(), db, FormulaRefs{Kind: "sum", Metrics: []string{"nope", "also-nope"}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestResolveDraftLeavesUnknownOperandsUnset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		cat := seedCategory(t, repo, "Sales")
		won := seedMetric(t, repo, models.NewMetric(cat.ID, "Won Deals"))
		seedMetric(t, repo, models.NewMetric(cat.ID, "Total Deals"))

		tests := []struct {
			name string
			refs FormulaRefs
		}{
			{"half typed name", FormulaRefs{Kind: "division", Numerator: "Won Deals", Denominator: "To"}},
			{"unknown sum member", FormulaRefs{Kind: "sum", Metrics: []string{"Won Deals", "Lost"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f, err := ResolveDraft(ctx, repo, tt.refs)
				if err != nil {
					t.Fatalf("ResolveDraft failed: %v", err)
				}
				if f.Complete() {
					t.Errorf("Expected incomplete draft, got %+v", f)
				}
				if ids := f.OperandIDs(); len(ids) != 1 || ids[0] != won.ID {
					t.Errorf("Expected only Won Deals resolved, got %v", ids)
				}
				if _, err := ResolveFormula(ctx, repo, tt.refs); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ResolveFormula to stay strict, got %v", err)
				}
			})
		}
	})
}

func TestParseFormulaRefs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FormulaRefs
	}{
		{
			name: "yaml",
			raw:  "type: division\nnumerator: Won\ndenominator: Total\nmultiply_by_100: true\ndecimal_places: 1\n",
			want: FormulaRefs{Kind: "division", Numerator: "Won", Denominator: "Total", MultiplyBy100: true, DecimalPlaces: intPtr(1)},
		},
		{
			name: "json",
			raw:  `{"type": "sum", "metrics": ["A", "B"], "format": "currency"}`,
			want: FormulaRefs{Kind: "sum", Metrics: []string{"A", "B"}, Format: "currency"},
		},
		{
			name: "partial draft",
			raw:  "type: rolling_average\n",
			want: FormulaRefs{Kind: "rolling_average"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormulaRefs([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseFormulaRefs failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFormulaRefsInvalid(t *testing.T) {
	if _, err := ParseFormulaRefs([]byte("type: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func intPtr(n int) *int { return &n }
