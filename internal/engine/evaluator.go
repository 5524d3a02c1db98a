// ABOUTME: Formula evaluator for calculated metrics over a monthly axis.
// ABOUTME: Resolves calculated operands recursively with an in-chain guard against cycles.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

// Stored holds one metric's persisted rows keyed by month.
type Stored map[time.Time]*models.MetricValue

// Evaluator computes merged monthly series for metrics over a fixed, dense,
// chronological axis of month keys. It is single-use and not safe for
// concurrent use; build one per evaluation.
type Evaluator struct {
	axis   []time.Time
	defs   map[uuid.UUID]*models.MetricDefinition
	stored map[uuid.UUID]Stored

	memo    map[uuid.UUID][]*float64
	chain   []uuid.UUID
	inChain map[uuid.UUID]bool

	// OnMissing is called once per operand id that has no definition.
	OnMissing func(id uuid.UUID)
}

// NewEvaluator builds an evaluator. axis must be dense and ordered.
func NewEvaluator(axis []time.Time, defs map[uuid.UUID]*models.MetricDefinition, stored map[uuid.UUID]Stored) *Evaluator {
	return &Evaluator{
		axis:    axis,
		defs:    defs,
		stored:  stored,
		memo:    make(map[uuid.UUID][]*float64),
		inChain: make(map[uuid.UUID]bool),
	}
}

// Axis returns the month keys the evaluator computes over.
func (e *Evaluator) Axis() []time.Time {
	return e.axis
}

// Series returns the displayed monthly series of metric id: stored rows where
// they exist, otherwise the live formula result for calculated metrics and
// null for native ones.
func (e *Evaluator) Series(id uuid.UUID) ([]*float64, error) {
	if s, ok := e.memo[id]; ok {
		return s, nil
	}
	if e.inChain[id] {
		return nil, e.cycleError(id)
	}

	def, ok := e.defs[id]
	if !ok {
		if e.OnMissing != nil {
			e.OnMissing(id)
		}
		s := make([]*float64, len(e.axis))
		e.memo[id] = s
		return s, nil
	}

	var live []*float64
	if def.IsCalculated {
		e.chain = append(e.chain, id)
		e.inChain[id] = true
		var err error
		live, err = e.Evaluate(def.Formula)
		e.chain = e.chain[:len(e.chain)-1]
		delete(e.inChain, id)
		if err != nil {
			return nil, err
		}
	}

	merged := MergeOverrides(e.axis, e.stored[id], live)
	e.memo[id] = merged
	return merged, nil
}

// Evaluate computes the live series of formula f without applying any stored
// overrides for the formula's own metric. An incomplete formula yields an
// all-null series.
func (e *Evaluator) Evaluate(f *models.Formula) ([]*float64, error) {
	out := make([]*float64, len(e.axis))
	if f == nil {
		return out, nil
	}
	if !models.IsValidFormulaKind(string(f.Kind)) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormulaKind, f.Kind)
	}
	if !f.Complete() {
		return out, nil
	}

	switch f.Kind {
	case models.FormulaDivision:
		scale := 1.0
		if f.MultiplyBy100 {
			scale = 100
		}
		return e.binary(f, func(n, d float64) *float64 {
			if d == 0 {
				return nil
			}
			return finite(n / d * scale)
		})
	case models.FormulaMultiplication:
		return e.binary(f, func(n, d float64) *float64 { return finite(n * d) })
	case models.FormulaDifference:
		return e.binary(f, func(n, d float64) *float64 { return finite(n - d) })
	case models.FormulaSum:
		operands := make([][]*float64, 0, len(f.MetricIDs))
		for _, id := range f.MetricIDs {
			s, err := e.Series(id)
			if err != nil {
				return nil, err
			}
			operands = append(operands, s)
		}
		return sumSeries(operands, len(e.axis)), nil
	case models.FormulaCumulative:
		src, err := e.Series(f.SourceID)
		if err != nil {
			return nil, err
		}
		return runningTotal(e.axis, src, false), nil
	case models.FormulaYearToDate:
		src, err := e.Series(f.SourceID)
		if err != nil {
			return nil, err
		}
		return runningTotal(e.axis, src, true), nil
	case models.FormulaRollingAverage:
		src, err := e.Series(f.SourceID)
		if err != nil {
			return nil, err
		}
		return rollingAverage(src, f.WindowSize), nil
	case models.FormulaPercentageChange:
		src, err := e.Series(f.SourceID)
		if err != nil {
			return nil, err
		}
		return percentageChange(src), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormulaKind, f.Kind)
	}
}

// binary applies op month by month; a null operand yields null.
func (e *Evaluator) binary(f *models.Formula, op func(n, d float64) *float64) ([]*float64, error) {
	num, err := e.Series(f.NumeratorID)
	if err != nil {
		return nil, err
	}
	den, err := e.Series(f.DenominatorID)
	if err != nil {
		return nil, err
	}
	out := make([]*float64, len(e.axis))
	for i := range out {
		if num[i] == nil || den[i] == nil {
			continue
		}
		out[i] = op(*num[i], *den[i])
	}
	return out, nil
}

func (e *Evaluator) cycleError(id uuid.UUID) *FormulaCycleError {
	start := 0
	for i, c := range e.chain {
		if c == id {
			start = i
			break
		}
	}
	chain := append(append([]uuid.UUID{}, e.chain[start:]...), id)
	return newCycleError(chain, e.defs)
}

func newCycleError(chain []uuid.UUID, defs map[uuid.UUID]*models.MetricDefinition) *FormulaCycleError {
	names := make([]string, len(chain))
	for i, id := range chain {
		if def, ok := defs[id]; ok {
			names[i] = def.Name
		} else {
			names[i] = id.String()[:8]
		}
	}
	return &FormulaCycleError{Chain: chain, Names: names}
}

// Dependencies returns root and every metric it transitively references,
// dependencies before dependents. It fails with a FormulaCycleError as soon as
// a metric id is revisited within one resolution chain.
func Dependencies(defs map[uuid.UUID]*models.MetricDefinition, root uuid.UUID) ([]uuid.UUID, error) {
	var (
		order   []uuid.UUID
		chain   []uuid.UUID
		done    = make(map[uuid.UUID]bool)
		inChain = make(map[uuid.UUID]int)
	)

	var walk func(id uuid.UUID) error
	walk = func(id uuid.UUID) error {
		if pos, ok := inChain[id]; ok {
			cycle := append(append([]uuid.UUID{}, chain[pos:]...), id)
			return newCycleError(cycle, defs)
		}
		if done[id] {
			return nil
		}
		inChain[id] = len(chain)
		chain = append(chain, id)
		if def, ok := defs[id]; ok && def.IsCalculated {
			for _, op := range def.Formula.OperandIDs() {
				if err := walk(op); err != nil {
					return err
				}
			}
		}
		chain = chain[:len(chain)-1]
		delete(inChain, id)
		done[id] = true
		order = append(order, id)
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return order, nil
}

// sumSeries adds operands month by month; null only when every operand is null.
func sumSeries(operands [][]*float64, n int) []*float64 {
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		var total float64
		present := false
		for _, s := range operands {
			if s[i] != nil {
				total += *s[i]
				present = true
			}
		}
		if present {
			out[i] = finite(total)
		}
	}
	return out
}

// runningTotal accumulates src from its first non-null month; earlier months
// stay null and later nulls count as zero. With yearly set the total restarts
// every January.
func runningTotal(axis []time.Time, src []*float64, yearly bool) []*float64 {
	out := make([]*float64, len(src))
	first := -1
	for i, v := range src {
		if v != nil {
			first = i
			break
		}
	}
	if first < 0 {
		return out
	}
	var total float64
	for i := first; i < len(src); i++ {
		if yearly && axis[i].Month() == time.January {
			total = 0
		}
		if src[i] != nil {
			total += *src[i]
		}
		out[i] = finite(total)
	}
	return out
}

// rollingAverage averages the non-null values among the window months ending
// at each month.
func rollingAverage(src []*float64, window int) []*float64 {
	out := make([]*float64, len(src))
	for i := range src {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		var total float64
		count := 0
		for j := lo; j <= i; j++ {
			if src[j] != nil {
				total += *src[j]
				count++
			}
		}
		if count > 0 {
			out[i] = finite(total / float64(count))
		}
	}
	return out
}

// percentageChange compares each month with the previous one.
func percentageChange(src []*float64) []*float64 {
	out := make([]*float64, len(src))
	for i := 1; i < len(src); i++ {
		prev, cur := src[i-1], src[i]
		if prev == nil || cur == nil || *prev == 0 {
			continue
		}
		out[i] = finite((*cur - *prev) / *prev * 100)
	}
	return out
}

// finite boxes v, mapping NaN and ±Inf to null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
