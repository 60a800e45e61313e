// Package money holds the monetary helpers shared by the cash reconciliation code.
// Every public helper returns a value rounded to two decimals.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimals kept for monetary values.
const Scale = 2

func fromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func toFloat(d decimal.Decimal) float64 {
	f := d.Round(Scale).InexactFloat64()
	if f == 0 {
		// normalise -0
		return 0
	}
	return f
}

// Round rounds v half away from zero to two decimals. NaN and infinities become zero.
func Round(v float64) float64 {
	return toFloat(fromFloat(v))
}

// Clamp rounds v and floors it at zero.
func Clamp(v float64) float64 {
	r := Round(v)
	if r < 0 {
		return 0
	}
	return r
}

// Add returns a+b rounded.
func Add(a, b float64) float64 {
	return toFloat(fromFloat(Round(a)).Add(fromFloat(Round(b))))
}

// Sub returns a-b rounded.
func Sub(a, b float64) float64 {
	return toFloat(fromFloat(Round(a)).Sub(fromFloat(Round(b))))
}

// Sum adds values left to right, rounding after each step.
func Sum(values ...float64) float64 {
	total := 0.0
	for _, v := range values {
		total = Add(total, v)
	}
	return total
}

// Format renders v with exactly two decimals.
func Format(v float64) string {
	return fromFloat(Round(v)).StringFixed(Scale)
}
