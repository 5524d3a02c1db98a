// ABOUTME: Formula tagged union for calculated metrics.
// ABOUTME: Eight formula kinds with per-kind operands and display metadata.
package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrInvalidFormula is returned when a formula fails validation.
var ErrInvalidFormula = errors.New("invalid formula")

// FormulaKind discriminates the formula variants.
type FormulaKind string

const (
	FormulaDivision         FormulaKind = "division"
	FormulaMultiplication   FormulaKind = "multiplication"
	FormulaDifference       FormulaKind = "difference"
	FormulaSum              FormulaKind = "sum"
	FormulaCumulative       FormulaKind = "cumulative"
	FormulaYearToDate       FormulaKind = "year_to_date"
	FormulaRollingAverage   FormulaKind = "rolling_average"
	FormulaPercentageChange FormulaKind = "percentage_change"
)

// AllFormulaKinds returns every formula kind.
var AllFormulaKinds = []FormulaKind{
	FormulaDivision, FormulaMultiplication, FormulaDifference, FormulaSum,
	FormulaCumulative, FormulaYearToDate, FormulaRollingAverage, FormulaPercentageChange,
}

// IsValidFormulaKind checks if a string names a formula kind.
func IsValidFormulaKind(s string) bool {
	return lo.Contains(AllFormulaKinds, FormulaKind(s))
}

// ValueFormat controls how computed values are rendered.
type ValueFormat string

const (
	FormatNumber     ValueFormat = "number"
	FormatPercentage ValueFormat = "percentage"
	FormatCurrency   ValueFormat = "currency"
)

// IsValidValueFormat checks if a string names a value format.
func IsValidValueFormat(s string) bool {
	switch ValueFormat(s) {
	case FormatNumber, FormatPercentage, FormatCurrency:
		return true
	}
	return false
}

// Binary reports whether the kind takes a numerator/denominator pair.
func (k FormulaKind) Binary() bool {
	return k == FormulaDivision || k == FormulaMultiplication || k == FormulaDifference
}

// Temporal reports whether the kind is computed along the time axis of a
// single source metric.
func (k FormulaKind) Temporal() bool {
	switch k {
	case FormulaCumulative, FormulaYearToDate, FormulaRollingAverage, FormulaPercentageChange:
		return true
	}
	return false
}

// Formula describes how a calculated metric derives its value.
// Only the operand fields relevant to Kind are meaningful; uuid.Nil marks an
// operand that has not been chosen yet.
type Formula struct {
	Kind FormulaKind `json:"type" yaml:"type"`

	// division, multiplication, difference
	NumeratorID   uuid.UUID `json:"numeratorMetricId,omitempty" yaml:"numerator_metric_id,omitempty"`
	DenominatorID uuid.UUID `json:"denominatorMetricId,omitempty" yaml:"denominator_metric_id,omitempty"`
	MultiplyBy100 bool      `json:"multiplyBy100,omitempty" yaml:"multiply_by_100,omitempty"`

	// sum
	MetricIDs []uuid.UUID `json:"metricIds,omitempty" yaml:"metric_ids,omitempty"`

	// cumulative, year_to_date, rolling_average, percentage_change
	SourceID   uuid.UUID `json:"sourceMetricId,omitempty" yaml:"source_metric_id,omitempty"`
	WindowSize int       `json:"windowSize,omitempty" yaml:"window_size,omitempty"`

	Format        ValueFormat `json:"format" yaml:"format"`
	DecimalPlaces int         `json:"decimalPlaces" yaml:"decimal_places"`
}

// OperandIDs returns the distinct, non-nil metric ids the formula references.
func (f *Formula) OperandIDs() []uuid.UUID {
	if f == nil {
		return nil
	}
	var ids []uuid.UUID
	switch {
	case f.Kind.Binary():
		ids = []uuid.UUID{f.NumeratorID, f.DenominatorID}
	case f.Kind == FormulaSum:
		ids = f.MetricIDs
	case f.Kind.Temporal():
		ids = []uuid.UUID{f.SourceID}
	}
	return lo.Uniq(lo.Filter(ids, func(id uuid.UUID, _ int) bool { return id != uuid.Nil }))
}

// Complete reports whether every operand has been chosen and the structural
// constraints of the kind hold. Incomplete formulas evaluate to all-null.
func (f *Formula) Complete() bool {
	if f == nil {
		return false
	}
	switch {
	case f.Kind.Binary():
		return f.NumeratorID != uuid.Nil && f.DenominatorID != uuid.Nil
	case f.Kind == FormulaSum:
		if len(f.MetricIDs) < 2 {
			return false
		}
		return !lo.Contains(f.MetricIDs, uuid.Nil)
	case f.Kind == FormulaRollingAverage:
		return f.SourceID != uuid.Nil && f.WindowSize >= 2
	case f.Kind.Temporal():
		return f.SourceID != uuid.Nil
	}
	return false
}

// Validate checks a formula before it is persisted.
func (f *Formula) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: missing formula", ErrInvalidFormula)
	}
	if !IsValidFormulaKind(string(f.Kind)) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFormula, f.Kind)
	}
	if f.Format != "" && !IsValidValueFormat(string(f.Format)) {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidFormula, f.Format)
	}
	if f.DecimalPlaces < 0 || f.DecimalPlaces > 10 {
		return fmt.Errorf("%w: decimal places must be between 0 and 10", ErrInvalidFormula)
	}
	if f.Kind == FormulaSum && len(f.MetricIDs) < 2 {
		return fmt.Errorf("%w: sum needs at least 2 metrics", ErrInvalidFormula)
	}
	if f.Kind == FormulaRollingAverage && f.WindowSize < 2 {
		return fmt.Errorf("%w: rolling average window must be at least 2", ErrInvalidFormula)
	}
	if !f.Complete() {
		return fmt.Errorf("%w: %s is missing operands", ErrInvalidFormula, f.Kind)
	}
	return nil
}

// DisplayFormat returns the format, defaulting to number.
func (f *Formula) DisplayFormat() ValueFormat {
	if f == nil || f.Format == "" {
		return FormatNumber
	}
	return f.Format
}

// Describe renders a short human description, resolving ids through name.
func (f *Formula) Describe(name func(uuid.UUID) string) string {
	if f == nil {
		return ""
	}
	switch f.Kind {
	case FormulaDivision:
		s := fmt.Sprintf("%s / %s", name(f.NumeratorID), name(f.DenominatorID))
		if f.MultiplyBy100 {
			s += " × 100"
		}
		return s
	case FormulaMultiplication:
		return fmt.Sprintf("%s × %s", name(f.NumeratorID), name(f.DenominatorID))
	case FormulaDifference:
		return fmt.Sprintf("%s − %s", name(f.NumeratorID), name(f.DenominatorID))
	case FormulaSum:
		return "sum(" + joinNames(f.MetricIDs, name) + ")"
	case FormulaRollingAverage:
		return fmt.Sprintf("rolling_average(%s, %d)", name(f.SourceID), f.WindowSize)
	default:
		return fmt.Sprintf("%s(%s)", f.Kind, name(f.SourceID))
	}
}

func joinNames(ids []uuid.UUID, name func(uuid.UUID) string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += name(id)
	}
	return out
}
