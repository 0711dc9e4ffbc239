// Package portfolio tracks the strategy's capital: realized P&L, commission
// paid, and the value committed to the open position.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"breakoutbot/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Capital tracks realized results for a single-symbol strategy.
// Amounts accumulate as decimals and leave as float64 snapshots.
// Writes come from the strategy goroutine only; the mutex guards reads from
// reporting (health endpoint, status saves).
type Capital struct {
	mu             sync.RWMutex
	initial        decimal.Decimal
	realized       decimal.Decimal
	commission     decimal.Decimal
	openValue      decimal.Decimal
	trades         int
	wins           int
	commissionRate decimal.Decimal // percent per side, e.g. 0.1 = 0.1%
}

// NewCapital creates a Capital with the given starting balance and
// commission rate in percent.
func NewCapital(initial, commissionRatePct float64) *Capital {
	return &Capital{
		initial:        decimal.NewFromFloat(initial),
		commissionRate: decimal.NewFromFloat(commissionRatePct),
	}
}

// Commission returns the round-trip commission for qty traded in at entry
// and out at exit.
func (c *Capital) Commission(entry, exit, qty float64) float64 {
	return c.fee(decimal.NewFromFloat(entry), decimal.NewFromFloat(exit), decimal.NewFromFloat(qty)).InexactFloat64()
}

func (c *Capital) fee(entry, exit, qty decimal.Decimal) decimal.Decimal {
	return entry.Add(exit).Mul(qty.Abs()).Mul(c.commissionRate).Div(hundred)
}

// MarkOpen records the value committed to a newly opened position.
func (c *Capital) MarkOpen(qty, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openValue = decimal.NewFromFloat(qty).Abs().Mul(decimal.NewFromFloat(price))
}

// Realize closes a position of signed qty entered at entry and exited at
// exit. It returns the realized P&L net of commission.
func (c *Capital) Realize(entry, exit, qty float64) float64 {
	e, x, q := decimal.NewFromFloat(entry), decimal.NewFromFloat(exit), decimal.NewFromFloat(qty)
	fee := c.fee(e, x, q)
	pnl := x.Sub(e).Mul(q).Sub(fee)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.realized = c.realized.Add(pnl)
	c.commission = c.commission.Add(fee)
	c.openValue = decimal.Zero
	c.trades++
	if pnl.IsPositive() {
		c.wins++
	}
	return pnl.InexactFloat64()
}

// State returns a snapshot of the capital state.
func (c *Capital) State() model.CapitalState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

func (c *Capital) snapshot() model.CapitalState {
	return model.CapitalState{
		InitialCapital: c.initial.InexactFloat64(),
		RealizedPnL:    c.realized.InexactFloat64(),
		OpenValue:      c.openValue.InexactFloat64(),
		Commission:     c.commission.InexactFloat64(),
		Trades:         c.trades,
		Wins:           c.wins,
	}
}

// Restore replaces the capital state, e.g. from a persisted status.
func (c *Capital) Restore(s model.CapitalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initial = decimal.NewFromFloat(s.InitialCapital)
	c.realized = decimal.NewFromFloat(s.RealizedPnL)
	c.openValue = decimal.NewFromFloat(s.OpenValue)
	c.commission = decimal.NewFromFloat(s.Commission)
	c.trades = s.Trades
	c.wins = s.Wins
}

// Summary is a capital report.
type Summary struct {
	InitialCapital float64 `json:"initial_capital"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	Equity         float64 `json:"equity"`
	Commission     float64 `json:"commission"`
	Trades         int     `json:"trades"`
	WinRate        float64 `json:"win_rate"` // 0-100
}

// GetSummary reports capital including the open position marked at price.
func (c *Capital) GetSummary(pos model.PositionState, price float64) Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	unrealized := decimal.Zero
	if !pos.Flat() {
		unrealized = decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(pos.EntryPrice)).
			Mul(decimal.NewFromFloat(pos.Quantity))
	}
	winRate := 0.0
	if c.trades > 0 {
		winRate = float64(c.wins) / float64(c.trades) * 100
	}
	return Summary{
		InitialCapital: c.initial.InexactFloat64(),
		RealizedPnL:    c.realized.InexactFloat64(),
		UnrealizedPnL:  unrealized.InexactFloat64(),
		Equity:         c.initial.Add(c.realized).Add(unrealized).InexactFloat64(),
		Commission:     c.commission.InexactFloat64(),
		Trades:         c.trades,
		WinRate:        winRate,
	}
}
