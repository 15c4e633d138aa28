package domain

import "github.com/shopspring/decimal"

// SafePrecision is the number of significant digits exposed to clients.
const SafePrecision = 15

// FormatSignificant renders d rounded to the given number of significant
// digits, without exponent notation.
func FormatSignificant(d decimal.Decimal, digits int) string {
	if d.IsZero() || digits <= 0 {
		return "0"
	}
	coef := d.Coefficient()
	n := len(coef.Abs(coef).String())
	// position of the leading digit relative to the decimal point
	lead := n + int(d.Exponent()) - 1
	return d.Round(int32(digits - 1 - lead)).String()
}
