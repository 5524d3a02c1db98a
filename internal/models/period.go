// ABOUTME: Period and Granularity types for display buckets.
// ABOUTME: Generates dense period sequences and canonical month keys.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the bucket size chosen for display.
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// AllGranularities lists every supported granularity, finest first.
var AllGranularities = []Granularity{
	GranularityDay, GranularityWeek, GranularityMonth, GranularityQuarter, GranularityYear,
}

// ParseGranularity converts a string into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range AllGranularities {
		if g == valid {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity: %q", s)
}

// Period is a calendar bucket identified by its start date and granularity.
type Period struct {
	Start       time.Time   `json:"start"`
	Granularity Granularity `json:"granularity"`
}

// PeriodRange bounds a storage read. A zero From means "since the beginning".
type PeriodRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether month falls inside the range (inclusive).
func (r PeriodRange) Contains(month time.Time) bool {
	if !r.From.IsZero() && month.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && month.After(r.To) {
		return false
	}
	return true
}

// MonthKey normalizes t to the canonical first-of-month storage key (UTC).
func MonthKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// FormatMonthKey renders a month key the way it is persisted.
func FormatMonthKey(t time.Time) string {
	return MonthKey(t).Format("2006-01-02")
}

// ParseMonth accepts "2006-01" or "2006-01-02" and returns the month key.
func ParseMonth(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return MonthKey(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q (use YYYY-MM)", s)
}

// ParseRange parses inclusive range bounds given as YYYY-MM or YYYY-MM-DD.
// A month-only to extends to the last day of that month.
func ParseRange(from, to string) (time.Time, time.Time, error) {
	start, _, err := parseBound(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, monthOnly, err := parseBound(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if monthOnly {
		end = end.AddDate(0, 1, -1)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("range ends before it starts: %s..%s", from, to)
	}
	return start, end, nil
}

// ResolvePeriods builds display periods from optional range bounds and
// granularity names. Blank bounds default to the twelve months ending at now;
// a blank granularity means month.
func ResolvePeriods(from, to, granularity string, now time.Time) ([]Period, Granularity, error) {
	g := GranularityMonth
	if strings.TrimSpace(granularity) != "" {
		var err error
		if g, err = ParseGranularity(granularity); err != nil {
			return nil, "", err
		}
	}
	if strings.TrimSpace(from) == "" {
		from = AddMonths(now, -11).Format("2006-01")
	}
	if strings.TrimSpace(to) == "" {
		to = MonthKey(now).Format("2006-01")
	}
	start, end, err := ParseRange(from, to)
	if err != nil {
		return nil, "", err
	}
	return GeneratePeriods(start, end, g), g, nil
}

func parseBound(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q (use YYYY-MM or YYYY-MM-DD)", s)
}

// AddMonths shifts a month key by n months.
func AddMonths(month time.Time, n int) time.Time {
	return MonthKey(month).AddDate(0, n, 0)
}

// MonthsBetween returns every month key from..to inclusive.
func MonthsBetween(from, to time.Time) []time.Time {
	from, to = MonthKey(from), MonthKey(to)
	if to.Before(from) {
		return nil
	}
	var months []time.Time
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

// TrailingMonths returns the n month keys ending at (and including) now's month.
func TrailingMonths(now time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	end := MonthKey(now)
	return MonthsBetween(AddMonths(end, -(n - 1)), end)
}

// BucketStart returns the start of the bucket of granularity g containing t.
func BucketStart(t time.Time, g Granularity) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case GranularityDay:
		return day
	case GranularityWeek:
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityQuarter:
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return MonthKey(t)
	}
}

// next returns the start of the bucket following start.
func next(start time.Time, g Granularity) time.Time {
	switch g {
	case GranularityDay:
		return start.AddDate(0, 0, 1)
	case GranularityWeek:
		return start.AddDate(0, 0, 7)
	case GranularityQuarter:
		return start.AddDate(0, 3, 0)
	case GranularityYear:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// GeneratePeriods returns the dense, ordered buckets covering [from, to].
// It is a pure function of its arguments and always terminates.
func GeneratePeriods(from, to time.Time, g Granularity) []Period {
	if to.Before(from) {
		return nil
	}
	last := BucketStart(to, g)
	var periods []Period
	for s := BucketStart(from, g); !s.After(last); s = next(s, g) {
		periods = append(periods, Period{Start: s, Granularity: g})
	}
	return periods
}

// Months returns the storage month keys that feed this period.
// Quarter and year periods span 3 and 12 months; finer periods map to the
// single month whose key equals the period start, if any.
func (p Period) Months() []time.Time {
	switch p.Granularity {
	case GranularityQuarter:
		return MonthsBetween(p.Start, AddMonths(p.Start, 2))
	case GranularityYear:
		return MonthsBetween(p.Start, AddMonths(p.Start, 11))
	default:
		return []time.Time{MonthKey(p.Start)}
	}
}

// Label renders the period for display.
func (p Period) Label() string {
	switch p.Granularity {
	case GranularityDay:
		return p.Start.Format("2006-01-02")
	case GranularityWeek:
		year, week := p.Start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case GranularityQuarter:
		return fmt.Sprintf("Q%d %d", (int(p.Start.Month())-1)/3+1, p.Start.Year())
	case GranularityYear:
		return p.Start.Format("2006")
	default:
		return p.Start.Format("Jan 2006")
	}
}
