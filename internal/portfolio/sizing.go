package portfolio

import "github.com/shopspring/decimal"

// Sizer decides the order quantity for a new position.
type Sizer struct {
	BuyUnit       float64 // base-asset quantity per entry
	MaxBudget     float64 // max quote-asset value per position; 0 = unlimited
	FloorDecimals int     // quantity precision
}

// Quantity returns the entry size at price, capped by the budget and
// floored to the configured precision. Zero means "do not trade".
func (s Sizer) Quantity(price float64) float64 {
	if price <= 0 || s.BuyUnit <= 0 {
		return 0
	}
	qty := decimal.NewFromFloat(s.BuyUnit)
	if s.MaxBudget > 0 {
		qty = decimal.Min(qty, decimal.NewFromFloat(s.MaxBudget).Div(decimal.NewFromFloat(price)))
	}
	return floorDec(qty, s.FloorDecimals).InexactFloat64()
}

// Floor rounds v down to the given number of decimals.
func Floor(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	return floorDec(decimal.NewFromFloat(v), decimals).InexactFloat64()
}

func floorDec(d decimal.Decimal, decimals int) decimal.Decimal {
	if decimals < 0 {
		return d
	}
	n := int32(decimals)
	return d.Shift(n).Floor().Shift(-n)
}
