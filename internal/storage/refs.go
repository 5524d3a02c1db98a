// ABOUTME: Resolves user-supplied metric references into formula operands.
// ABOUTME: Shared by the CLI, MCP tools, and HTTP API when building drafts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"gopkg.in/yaml.v3"
)

// FormulaRefs is a formula whose operands are metric references (id, id
// prefix, or name) rather than ids. Blank references stay unset so that an
// incomplete draft can still be previewed.
type FormulaRefs struct {
	Kind          string   `json:"type" yaml:"type"`
	Numerator     string   `json:"numerator,omitempty" yaml:"numerator,omitempty"`
	Denominator   string   `json:"denominator,omitempty" yaml:"denominator,omitempty"`
	MultiplyBy100 bool     `json:"multiply_by_100,omitempty" yaml:"multiply_by_100,omitempty"`
	Metrics       []string `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Source        string   `json:"source,omitempty" yaml:"source,omitempty"`
	WindowSize    int      `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	Format        string   `json:"format,omitempty" yaml:"format,omitempty"`
	DecimalPlaces *int     `json:"decimal_places,omitempty" yaml:"decimal_places,omitempty"`
}

// ResolveFormula looks up every reference in refs and returns the formula.
// Decimal places default to 2. Any reference that does not name exactly one
// metric is an error.
func ResolveFormula(ctx context.Context, repo Repository, refs FormulaRefs) (*models.Formula, error) {
	return resolveFormula(refs, func(ref string) (uuid.UUID, error) {
		return resolveRef(ctx, repo, ref)
	})
}

// ResolveDraft is ResolveFormula for drafts still being typed: a reference
// that matches no metric, or more than one, leaves its operand unset so the
// draft previews as incomplete instead of failing.
func ResolveDraft(ctx context.Context, repo Repository, refs FormulaRefs) (*models.Formula, error) {
	return resolveFormula(refs, func(ref string) (uuid.UUID, error) {
		id, err := resolveRef(ctx, repo, ref)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguousPrefix) {
			return uuid.Nil, nil
		}
		return id, err
	})
}

func resolveFormula(refs FormulaRefs, resolve func(string) (uuid.UUID, error)) (*models.Formula, error) {
	f := &models.Formula{
		Kind:          models.FormulaKind(strings.ToLower(strings.TrimSpace(refs.Kind))),
		MultiplyBy100: refs.MultiplyBy100,
		WindowSize:    refs.WindowSize,
		Format:        models.ValueFormat(refs.Format),
		DecimalPlaces: 2,
	}
	if refs.DecimalPlaces != nil {
		f.DecimalPlaces = *refs.DecimalPlaces
	}

	var err error
	if f.NumeratorID, err = resolve(refs.Numerator); err != nil {
		return nil, err
	}
	if f.DenominatorID, err = resolve(refs.Denominator); err != nil {
		return nil, err
	}
	if f.SourceID, err = resolve(refs.Source); err != nil {
		return nil, err
	}
	for _, ref := range refs.Metrics {
		id, err := resolve(ref)
		if err != nil {
			return nil, err
		}
		f.MetricIDs = append(f.MetricIDs, id)
	}
	return f, nil
}

// ParseFormulaRefs reads a draft formula written as YAML or JSON.
func ParseFormulaRefs(raw []byte) (FormulaRefs, error) {
	var refs FormulaRefs
	if err := yaml.Unmarshal(raw, &refs); err != nil {
		return FormulaRefs{}, fmt.Errorf("parse formula: %w", err)
	}
	return refs, nil
}

func resolveRef(ctx context.Context, repo Repository, ref string) (uuid.UUID, error) {
	if strings.TrimSpace(ref) == "" {
		return uuid.Nil, nil
	}
	m, err := repo.GetMetric(ctx, ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve metric %q: %w", ref, err)
	}
	return m.ID, nil
}
