// ABOUTME: Tests for periods, granularities, and month keys.
// ABOUTME: Verifies dense period generation and bucket boundaries.
package models

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseGranularity(t *testing.T) {
	for _, g := range AllGranularities {
		got, err := ParseGranularity(string(g))
		if err != nil || got != g {
			t.Errorf("ParseGranularity(%q) = %q, %v", g, got, err)
		}
	}
	if _, err := ParseGranularity("fortnight"); err == nil {
		t.Error("expected error for unknown granularity")
	}
}

func TestGeneratePeriods(t *testing.T) {
	tests := []struct {
		name      string
		from, to  time.Time
		g         Granularity
		wantLen   int
		wantFirst time.Time
		wantLast  time.Time
	}{
		{"months", date(2024, 1, 15), date(2024, 6, 2), GranularityMonth, 6, date(2024, 1, 1), date(2024, 6, 1)},
		{"quarters", date(2024, 2, 1), date(2024, 11, 30), GranularityQuarter, 4, date(2024, 1, 1), date(2024, 10, 1)},
		{"years", date(2022, 5, 1), date(2024, 1, 1), GranularityYear, 3, date(2022, 1, 1), date(2024, 1, 1)},
		{"days", date(2024, 2, 27), date(2024, 3, 2), GranularityDay, 5, date(2024, 2, 27), date(2024, 3, 2)},
		// 2024-01-03 is a Wednesday; ISO week starts Monday 2024-01-01.
		{"weeks", date(2024, 1, 3), date(2024, 1, 22), GranularityWeek, 4, date(2024, 1, 1), date(2024, 1, 22)},
		{"inverted", date(2024, 6, 1), date(2024, 1, 1), GranularityMonth, 0, time.Time{}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeneratePeriods(tt.from, tt.to, tt.g)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen == 0 {
				return
			}
			if !got[0].Start.Equal(tt.wantFirst) {
				t.Errorf("first = %v, want %v", got[0].Start, tt.wantFirst)
			}
			if !got[len(got)-1].Start.Equal(tt.wantLast) {
				t.Errorf("last = %v, want %v", got[len(got)-1].Start, tt.wantLast)
			}
			for i := 1; i < len(got); i++ {
				if !got[i].Start.After(got[i-1].Start) {
					t.Errorf("periods not strictly ordered at %d", i)
				}
			}
		})
	}
}

func TestGeneratePeriodsIsRestartable(t *testing.T) {
	a := GeneratePeriods(date(2023, 1, 1), date(2024, 12, 31), GranularityQuarter)
	b := GeneratePeriods(date(2023, 1, 1), date(2024, 12, 31), GranularityQuarter)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("period %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestPeriodMonths(t *testing.T) {
	q := Period{Start: date(2024, 4, 1), Granularity: GranularityQuarter}
	if got := q.Months(); len(got) != 3 || !got[2].Equal(date(2024, 6, 1)) {
		t.Errorf("quarter Months() = %v", got)
	}
	y := Period{Start: date(2024, 1, 1), Granularity: GranularityYear}
	if got := y.Months(); len(got) != 12 || !got[11].Equal(date(2024, 12, 1)) {
		t.Errorf("year Months() = %v", got)
	}
}

func TestPeriodLabel(t *testing.T) {
	tests := []struct {
		p    Period
		want string
	}{
		{Period{date(2024, 1, 15), GranularityDay}, "2024-01-15"},
		{Period{date(2024, 1, 15), GranularityWeek}, "2024-W03"},
		{Period{date(2024, 1, 1), GranularityMonth}, "Jan 2024"},
		{Period{date(2024, 7, 1), GranularityQuarter}, "Q3 2024"},
		{Period{date(2024, 1, 1), GranularityYear}, "2024"},
	}
	for _, tt := range tests {
		if got := tt.p.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseMonth(t *testing.T) {
	for _, s := range []string{"2024-03", "2024-03-19"} {
		got, err := ParseMonth(s)
		if err != nil {
			t.Fatalf("ParseMonth(%q) failed: %v", s, err)
		}
		if !got.Equal(date(2024, 3, 1)) {
			t.Errorf("ParseMonth(%q) = %v", s, got)
		}
	}
	if _, err := ParseMonth("March"); err == nil {
		t.Error("expected error for invalid month")
	}
}

func TestParseRange(t *testing.T) {
	from, to, err := ParseRange("2024-01", "2024-02")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if !from.Equal(date(2024, 1, 1)) || !to.Equal(date(2024, 2, 29)) {
		t.Errorf("ParseRange = %v..%v", from, to)
	}

	_, to, err = ParseRange("2024-01-15", "2024-03-10")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if !to.Equal(date(2024, 3, 10)) {
		t.Errorf("explicit day bound changed: %v", to)
	}

	if _, _, err := ParseRange("2024-05", "2024-01"); err == nil {
		t.Error("expected error for reversed range")
	}
	if _, _, err := ParseRange("soon", "2024-01"); err == nil {
		t.Error("expected error for invalid bound")
	}
}

func TestResolvePeriods(t *testing.T) {
	periods, g, err := ResolvePeriods("", "", "", date(2024, 6, 15))
	if err != nil {
		t.Fatalf("ResolvePeriods failed: %v", err)
	}
	if g != GranularityMonth || len(periods) != 12 {
		t.Fatalf("got %d %s periods", len(periods), g)
	}
	if !periods[0].Start.Equal(date(2023, 7, 1)) || !periods[11].Start.Equal(date(2024, 6, 1)) {
		t.Errorf("default window = %v..%v", periods[0].Start, periods[11].Start)
	}

	periods, g, err = ResolvePeriods("2024-01", "2024-12", "Quarter", date(2024, 6, 15))
	if err != nil {
		t.Fatalf("ResolvePeriods failed: %v", err)
	}
	if g != GranularityQuarter || len(periods) != 4 {
		t.Errorf("got %d %s periods", len(periods), g)
	}

	if _, _, err := ResolvePeriods("", "", "hourly", date(2024, 6, 15)); err == nil {
		t.Error("expected error for unknown granularity")
	}
}

func TestTrailingMonths(t *testing.T) {
	got := TrailingMonths(date(2024, 2, 20), 3)
	want := []time.Time{date(2023, 12, 1), date(2024, 1, 1), date(2024, 2, 1)}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("month %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPeriodRangeContains(t *testing.T) {
	r := PeriodRange{To: date(2024, 6, 1)}
	if !r.Contains(date(1999, 1, 1)) {
		t.Error("open range should contain early months")
	}
	if r.Contains(date(2024, 7, 1)) {
		t.Error("range should not contain months after To")
	}
}
