// ABOUTME: Calculation service tying storage reads to evaluation and aggregation.
// ABOUTME: Computes single metric series, previews, and concurrent category overviews.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/logger"
	"github.com/harperreed/kpi/internal/models"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Store is the read side of persistence the engine consumes.
type Store interface {
	ListMetrics(ctx context.Context, categoryID *uuid.UUID) ([]*models.MetricDefinition, error)
	GetValues(ctx context.Context, metricIDs []uuid.UUID, r models.PeriodRange) ([]*models.MetricValue, error)
}

// Option configures a Service.
type Option func(*config)

type config struct {
	previewMonths int
	concurrency   int
	now           func() time.Time
}

// WithPreviewMonths sets the default trailing preview window.
func WithPreviewMonths(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.previewMonths = n
		}
	}
}

// WithConcurrency bounds the number of series computed at once by ComputeCategory.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClock replaces time.Now, used to anchor the preview window.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

func applyOptions(opts []Option) *config {
	cfg := &config{
		previewMonths: 3,
		concurrency:   4,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Service computes metric series on demand. It holds no per-request state.
type Service struct {
	store Store
	log   *logger.Logger
	cfg   *config
}

// NewService creates a calculation service over store.
func NewService(store Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store: store,
		log:   log.With("component", "engine"),
		cfg:   applyOptions(opts),
	}
}

// Point is one displayed bucket of a series.
type Point struct {
	Period  models.Period `json:"period"`
	Label   string        `json:"label"`
	Value   *float64      `json:"value"`
	Display string        `json:"display"`
}

// MetricSeries is one member of a category overview. ReadOnly marks a metric
// shown in a category other than its home category. Err carries a formula
// cycle confined to this metric.
type MetricSeries struct {
	Metric   *models.MetricDefinition `json:"metric"`
	ReadOnly bool                     `json:"read_only"`
	Points   []Point                  `json:"points"`
	Err      error                    `json:"-"`
}

// snapshot is a read-only view of definitions and stored rows for one request.
type snapshot struct {
	defs   map[uuid.UUID]*models.MetricDefinition
	stored map[uuid.UUID]Stored
	axis   []time.Time
}

func (s *snapshot) evaluator(log *logger.Logger) *Evaluator {
	ev := NewEvaluator(s.axis, s.defs, s.stored)
	ev.OnMissing = func(id uuid.UUID) {
		log.Warn("formula references unknown metric", "metric_id", id.String())
	}
	return ev
}

// ComputeSeries returns the displayed series of metricID over periods, all of
// which must have granularity g.
func (s *Service) ComputeSeries(ctx context.Context, metricID uuid.UUID, periods []models.Period, g models.Granularity) ([]Point, error) {
	if err := checkPeriods(periods, g); err != nil {
		return nil, err
	}
	defs, err := s.definitions(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := defs[metricID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMetricNotFound, metricID)
	}
	if len(periods) == 0 {
		return []Point{}, nil
	}

	deps, err := Dependencies(defs, metricID)
	if err != nil {
		return nil, err
	}
	from, to := periodMonths(periods)
	snap, err := s.load(ctx, defs, deps, from, to, needsHistory(defs, deps))
	if err != nil {
		return nil, err
	}

	series, err := snap.evaluator(s.log).Series(metricID)
	if err != nil {
		return nil, err
	}
	return points(def, periods, Aggregate(monthlyMap(snap.axis, series), periods)), nil
}

// ComputeCategory computes every metric visible in categoryID concurrently
// over one shared snapshot, ordered by sort order then name.
func (s *Service) ComputeCategory(ctx context.Context, categoryID uuid.UUID, periods []models.Period, g models.Granularity) ([]MetricSeries, error) {
	if err := checkPeriods(periods, g); err != nil {
		return nil, err
	}
	members, err := s.store.ListMetrics(ctx, &categoryID)
	if err != nil {
		return nil, fmt.Errorf("list category metrics: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].SortOrder != members[j].SortOrder {
			return members[i].SortOrder < members[j].SortOrder
		}
		return members[i].Name < members[j].Name
	})

	out := make([]MetricSeries, len(members))
	for i, m := range members {
		out[i] = MetricSeries{Metric: m, ReadOnly: m.CategoryID != categoryID, Points: []Point{}}
	}
	if len(members) == 0 || len(periods) == 0 {
		return out, nil
	}

	defs, err := s.definitions(ctx)
	if err != nil {
		return nil, err
	}
	var needed []uuid.UUID
	for i, m := range members {
		deps, err := Dependencies(defs, m.ID)
		if err != nil {
			out[i].Err = err
			continue
		}
		needed = append(needed, deps...)
	}
	from, to := periodMonths(periods)
	needed = lo.Uniq(needed)
	snap, err := s.load(ctx, defs, needed, from, to, needsHistory(defs, needed))
	if err != nil {
		return nil, err
	}

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.concurrency)
	for i := range out {
		if out[i].Err != nil {
			continue
		}
		i := i
		eg.Go(func() error {
			m := out[i].Metric
			series, err := snap.evaluator(s.log).Series(m.ID)
			if err != nil {
				if IsFormulaCycle(err) {
					out[i].Err = err
					return nil
				}
				return fmt.Errorf("compute %s: %w", m.Name, err)
			}
			out[i].Points = points(m, periods, Aggregate(monthlyMap(snap.axis, series), periods))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// definitions loads every metric definition keyed by id.
func (s *Service) definitions(ctx context.Context) (map[uuid.UUID]*models.MetricDefinition, error) {
	all, err := s.store.ListMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return lo.KeyBy(all, func(m *models.MetricDefinition) uuid.UUID { return m.ID }), nil
}

// load reads stored rows for ids and builds the month axis covering from..to.
// With history set the read is unbounded below and the axis starts at the
// earliest stored month, which temporal formulas need.
func (s *Service) load(ctx context.Context, defs map[uuid.UUID]*models.MetricDefinition, ids []uuid.UUID, from, to time.Time, history bool) (*snapshot, error) {
	r := models.PeriodRange{From: from, To: to}
	if history {
		r.From = time.Time{}
	}
	rows, err := s.store.GetValues(ctx, ids, r)
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}

	start := from
	for _, row := range rows {
		if m := models.MonthKey(row.PeriodDate); m.Before(start) {
			start = m
		}
	}
	s.log.Debug("loaded snapshot", "metrics", len(ids), "rows", len(rows), "from", models.FormatMonthKey(start), "to", models.FormatMonthKey(to))
	return &snapshot{
		defs:   defs,
		stored: GroupValues(rows),
		axis:   models.MonthsBetween(start, to),
	}, nil
}

// needsHistory reports whether any of ids is a temporal calculated metric.
func needsHistory(defs map[uuid.UUID]*models.MetricDefinition, ids []uuid.UUID) bool {
	return lo.SomeBy(ids, func(id uuid.UUID) bool {
		def, ok := defs[id]
		return ok && def.IsCalculated && def.Formula != nil && def.Formula.Kind.Temporal()
	})
}

func checkPeriods(periods []models.Period, g models.Granularity) error {
	if _, err := models.ParseGranularity(string(g)); err != nil {
		return err
	}
	for _, p := range periods {
		if p.Granularity != g {
			return fmt.Errorf("%w: %s period in %s series", ErrGranularityMismatch, p.Granularity, g)
		}
	}
	return nil
}

// periodMonths returns the first and last month keys the periods touch.
func periodMonths(periods []models.Period) (time.Time, time.Time) {
	first := periods[0].Months()
	last := periods[len(periods)-1].Months()
	return first[0], last[len(last)-1]
}

func points(def *models.MetricDefinition, periods []models.Period, values []*float64) []Point {
	out := make([]Point, len(periods))
	for i, p := range periods {
		out[i] = Point{
			Period:  p,
			Label:   p.Label(),
			Value:   values[i],
			Display: models.FormatValue(values[i], def.Formula),
		}
	}
	return out
}
