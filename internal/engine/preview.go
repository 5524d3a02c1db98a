// ABOUTME: Formula preview for drafts that have not been saved yet.
// ABOUTME: Evaluates a draft over a short trailing window of months.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

// PreviewRequest describes a draft formula. MetricID is set when an existing
// calculated metric is being edited; its stored rows are then merged over the
// draft's live results. Months defaults to the trailing preview window.
type PreviewRequest struct {
	MetricID *uuid.UUID      `json:"metric_id,omitempty"`
	Formula  *models.Formula `json:"formula"`
	Months   []time.Time     `json:"months,omitempty"`
}

// PreviewPoint is one previewed month.
type PreviewPoint struct {
	Month   time.Time `json:"month"`
	Label   string    `json:"label"`
	Value   *float64  `json:"value"`
	Display string    `json:"display"`
}

// PreviewResult holds the previewed months in order. Complete is false when
// the draft was missing operands and every value is null.
type PreviewResult struct {
	Points   []PreviewPoint `json:"points"`
	Complete bool           `json:"complete"`
}

// Map returns the result keyed by month.
func (r PreviewResult) Map() map[time.Time]*float64 {
	m := make(map[time.Time]*float64, len(r.Points))
	for _, p := range r.Points {
		m[p.Month] = p.Value
	}
	return m
}

// Preview evaluates req.Formula. An incomplete or unrecognized draft yields
// an all-null result without reading storage. A draft that would close a
// formula cycle fails with a FormulaCycleError.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	months := normalizeMonths(req.Months)
	if len(months) == 0 {
		months = models.TrailingMonths(s.cfg.now(), s.cfg.previewMonths)
	}

	f := req.Formula
	if f == nil || !models.IsValidFormulaKind(string(f.Kind)) || !f.Complete() {
		return previewResult(months, make([]*float64, len(months)), f, false), nil
	}

	scoped, draft, err := s.withDraft(ctx, req.MetricID, f)
	if err != nil {
		return PreviewResult{}, err
	}
	deps, err := Dependencies(scoped, draft.ID)
	if err != nil {
		return PreviewResult{}, err
	}
	// The draft itself decides whether history is read, even when it is
	// not a saved metric and is left out of the storage read.
	history := needsHistory(scoped, deps)
	if req.MetricID == nil {
		deps = deps[:len(deps)-1]
	}

	snap, err := s.load(ctx, scoped, deps, months[0], months[len(months)-1], history)
	if err != nil {
		return PreviewResult{}, err
	}
	series, err := snap.evaluator(s.log).Series(draft.ID)
	if err != nil {
		return PreviewResult{}, err
	}
	monthly := monthlyMap(snap.axis, series)
	values := make([]*float64, len(months))
	for i, m := range months {
		values[i] = monthly[m]
	}
	return previewResult(months, values, f, true), nil
}

// CheckFormula fails with a FormulaCycleError when saving f on metricID
// would make the metric depend on itself.
func (s *Service) CheckFormula(ctx context.Context, metricID uuid.UUID, f *models.Formula) error {
	scoped, draft, err := s.withDraft(ctx, &metricID, f)
	if err != nil {
		return err
	}
	_, err = Dependencies(scoped, draft.ID)
	return err
}

// withDraft returns the saved definitions with a draft carrying f in place of
// metricID, or under a fresh id when metricID is nil. The shared map is not
// mutated.
func (s *Service) withDraft(ctx context.Context, metricID *uuid.UUID, f *models.Formula) (map[uuid.UUID]*models.MetricDefinition, *models.MetricDefinition, error) {
	defs, err := s.definitions(ctx)
	if err != nil {
		return nil, nil, err
	}

	draft := &models.MetricDefinition{ID: uuid.New(), Name: "preview", IsCalculated: true}
	if metricID != nil {
		if existing, ok := defs[*metricID]; ok {
			copied := *existing
			draft = &copied
		} else {
			draft.ID = *metricID
		}
		draft.IsCalculated = true
	}
	draft.Formula = f

	scoped := make(map[uuid.UUID]*models.MetricDefinition, len(defs)+1)
	for id, d := range defs {
		scoped[id] = d
	}
	scoped[draft.ID] = draft
	return scoped, draft, nil
}

// normalizeMonths maps months to month keys, sorted and deduplicated.
func normalizeMonths(months []time.Time) []time.Time {
	if len(months) == 0 {
		return nil
	}
	seen := make(map[time.Time]bool, len(months))
	var out []time.Time
	for _, m := range months {
		k := models.MonthKey(m)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func previewResult(months []time.Time, values []*float64, f *models.Formula, complete bool) PreviewResult {
	pts := make([]PreviewPoint, len(months))
	for i, m := range months {
		pts[i] = PreviewPoint{
			Month:   m,
			Label:   m.Format("Jan 2006"),
			Value:   values[i],
			Display: models.FormatValue(values[i], f),
		}
	}
	return PreviewResult{Points: pts, Complete: complete}
}
