package shared

import "github.com/shopspring/decimal"

// MoneyScale is the fixed number of fractional digits for currency amounts.
const MoneyScale = 4

// NormalizeAmount reduces an amount to the fixed currency scale, rounding
// half-up when precision is lost.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
