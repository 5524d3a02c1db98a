// ABOUTME: Override merge between stored rows and live formula results.
// ABOUTME: Any stored row wins as-is, regardless of its manual override flag.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

// MergeOverrides combines live results with stored rows over axis. A month
// with a stored row (manual or synced, even one holding null) takes the stored
// value; otherwise the live value is used. A nil live series is how native
// metrics are merged: months without a row are null.
func MergeOverrides(axis []time.Time, stored Stored, live []*float64) []*float64 {
	out := make([]*float64, len(axis))
	for i, month := range axis {
		if row, ok := stored[month]; ok {
			out[i] = clone(row.Value)
			continue
		}
		if live != nil {
			out[i] = live[i]
		}
	}
	return out
}

// GroupValues indexes rows by metric and canonical month key.
func GroupValues(rows []*models.MetricValue) map[uuid.UUID]Stored {
	grouped := make(map[uuid.UUID]Stored)
	for _, row := range rows {
		s, ok := grouped[row.MetricID]
		if !ok {
			s = make(Stored)
			grouped[row.MetricID] = s
		}
		s[models.MonthKey(row.PeriodDate)] = row
	}
	return grouped
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
