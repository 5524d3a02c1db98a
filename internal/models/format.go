// ABOUTME: Value formatting driven by per-formula display metadata.
// ABOUTME: Uses shopspring/decimal for fixed-point rounding without float artifacts.
package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NullDisplay is rendered for periods without a value.
const NullDisplay = "—"

// FormatValue renders v with the format and decimal places of f.
// A nil f formats as a plain number with two decimals.
func FormatValue(v *float64, f *Formula) string {
	if v == nil {
		return NullDisplay
	}
	places := 2
	if f != nil {
		places = f.DecimalPlaces
	}

	d := decimal.NewFromFloat(*v).Round(int32(places))
	neg := d.IsNegative()
	digits := groupThousands(d.Abs().StringFixed(int32(places)))

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	switch f.DisplayFormat() {
	case FormatCurrency:
		b.WriteByte('$')
		b.WriteString(digits)
	case FormatPercentage:
		b.WriteString(digits)
		b.WriteByte('%')
	default:
		b.WriteString(digits)
	}
	return b.String()
}

// groupThousands inserts commas into the integer part of a fixed-point string.
func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
