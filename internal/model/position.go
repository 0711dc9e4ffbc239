package model

import "time"

// Side is the direction of a position.
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionState is the strategy's current position.
// Quantity is signed: positive = long, negative = short, zero = flat.
// A flat position always carries a zero EntryTime.
type PositionState struct {
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	LosscutPrice float64   `json:"losscut_price"`
}

// Side derives the position direction from the quantity sign.
func (p PositionState) Side() Side {
	switch {
	case p.Quantity > 0:
		return SideLong
	case p.Quantity < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// Flat reports whether there is no open position.
func (p PositionState) Flat() bool {
	return p.Quantity == 0
}

// UnrealizedPnL computes the open position's mark-to-market result at price.
func (p PositionState) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}

// CapitalState tracks account-level results of the strategy.
type CapitalState struct {
	InitialCapital float64 `json:"initial_capital"`
	RealizedPnL    float64 `json:"realized_pnl"`
	OpenValue      float64 `json:"open_value"` // |qty| * entry price of the open position
	Commission     float64 `json:"commission"` // total commission paid
	Trades         int     `json:"trades"`     // closed round trips
	Wins           int     `json:"wins"`
}

// Equity returns initial capital plus realized PnL.
func (c CapitalState) Equity() float64 {
	return c.InitialCapital + c.RealizedPnL
}

// Status is the persisted bot state restored on restart.
type Status struct {
	Symbol    string        `json:"symbol"`
	Position  PositionState `json:"position"`
	Capital   CapitalState  `json:"capital"`
	UpdatedAt time.Time     `json:"updated_at"`
}
