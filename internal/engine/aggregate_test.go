// ABOUTME: Tests for granularity aggregation and override merge.
// ABOUTME: Quarter/year sums, exact-month day/week lookups, stored-row precedence.
package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestAggregateQuarter(t *testing.T) {
	monthly := map[time.Time]*float64{
		mustMonth("2024-01"): f(10),
		mustMonth("2024-02"): nil,
		mustMonth("2024-03"): f(5),
	}
	periods := models.GeneratePeriods(mustMonth("2024-01"), mustMonth("2024-06"), models.GranularityQuarter)

	got := Aggregate(monthly, periods)
	requireSeries(t, []*float64{f(15), nil}, got)
}

func TestAggregateYear(t *testing.T) {
	monthly := map[time.Time]*float64{
		mustMonth("2023-12"): f(1),
		mustMonth("2024-01"): f(2),
		mustMonth("2024-12"): f(3),
	}
	periods := models.GeneratePeriods(mustMonth("2023-01"), mustMonth("2024-12"), models.GranularityYear)

	requireSeries(t, []*float64{f(1), f(5)}, Aggregate(monthly, periods))
}

func TestAggregateDayOnlyMatchesMonthStart(t *testing.T) {
	monthly := map[time.Time]*float64{mustMonth("2024-03"): f(42)}
	from := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	periods := models.GeneratePeriods(from, to, models.GranularityDay)

	// Feb 28, Feb 29, Mar 1, Mar 2
	requireSeries(t, []*float64{nil, nil, f(42), nil}, Aggregate(monthly, periods))
}

func TestAggregateWeekOnlyMatchesMonthStart(t *testing.T) {
	// 2024-04-01 is a Monday.
	monthly := map[time.Time]*float64{
		mustMonth("2024-04"): f(7),
		mustMonth("2024-05"): f(9),
	}
	periods := models.GeneratePeriods(mustMonth("2024-04"), mustMonth("2024-05"), models.GranularityWeek)

	got := Aggregate(monthly, periods)
	assert.NotNil(t, got[0])
	assert.Equal(t, 7.0, *got[0])
	for i := 1; i < len(got); i++ {
		assert.Nil(t, got[i], "week starting %s", periods[i].Start.Format("2006-01-02"))
	}
}

func TestMergeOverrides(t *testing.T) {
	axis := months("2024-01", "2024-02", "2024-03")
	id := uuid.New()
	live := []*float64{f(42), f(42), f(42)}

	tests := []struct {
		name   string
		stored Stored
		want   []*float64
	}{
		{"no rows keeps live", Stored{}, []*float64{f(42), f(42), f(42)}},
		{
			"manual row wins",
			Stored{axis[0]: models.NewManualValue(id, axis[0], f(99))},
			[]*float64{f(99), f(42), f(42)},
		},
		{
			"synced row wins",
			Stored{axis[1]: models.NewSyncedValue(id, axis[1], f(99))},
			[]*float64{f(42), f(99), f(42)},
		},
		{
			"stored null wins",
			Stored{axis[2]: models.NewManualValue(id, axis[2], nil)},
			[]*float64{f(42), f(42), nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireSeries(t, tt.want, MergeOverrides(axis, tt.stored, live))
		})
	}
}

func TestMergeOverridesNative(t *testing.T) {
	axis := months("2024-01", "2024-02")
	id := uuid.New()
	stored := Stored{axis[1]: models.NewManualValue(id, axis[1], f(3))}

	requireSeries(t, []*float64{nil, f(3)}, MergeOverrides(axis, stored, nil))
}

func TestMergeOverridesCopiesStoredValue(t *testing.T) {
	axis := months("2024-01")
	row := models.NewManualValue(uuid.New(), axis[0], f(5))

	got := MergeOverrides(axis, Stored{axis[0]: row}, nil)
	*got[0] = 6
	assert.Equal(t, 5.0, *row.Value)
}
