// ABOUTME: Granularity aggregator reshaping monthly values into display buckets.
// ABOUTME: Quarter and year sum their months; finer buckets read one exact month.
package engine

import (
	"time"

	"github.com/harperreed/kpi/internal/models"
)

// Aggregate maps a monthly series onto periods. Day, week and month periods
// take the value stored under the month key equal to the period start, so
// only buckets starting on the first of a month carry a value. Quarter and
// year periods sum their present months and are null when none is present.
func Aggregate(monthly map[time.Time]*float64, periods []models.Period) []*float64 {
	out := make([]*float64, len(periods))
	for i, p := range periods {
		switch p.Granularity {
		case models.GranularityQuarter, models.GranularityYear:
			var total float64
			present := false
			for _, m := range p.Months() {
				if v := monthly[m]; v != nil {
					total += *v
					present = true
				}
			}
			if present {
				out[i] = finite(total)
			}
		default:
			key := models.MonthKey(p.Start)
			if !p.Start.Equal(key) {
				continue
			}
			out[i] = clone(monthly[key])
		}
	}
	return out
}

// monthlyMap zips an axis with its series.
func monthlyMap(axis []time.Time, series []*float64) map[time.Time]*float64 {
	m := make(map[time.Time]*float64, len(axis))
	for i, month := range axis {
		m[month] = series[i]
	}
	return m
}
