package model

import "time"

// Candle is one closed OHLC period for the traded symbol.
// Time is the period open time (UTC). Prices are quote-asset decimals.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IndicatorState holds the weekly breakout levels valid for one candle.
type IndicatorState struct {
	WeekStart  time.Time `json:"week_start"`
	WeekOpen   float64   `json:"week_open"`
	PrevHigh   float64   `json:"prev_high"`
	PrevLow    float64   `json:"prev_low"`
	LongBreak  float64   `json:"long_break"`
	ShortBreak float64   `json:"short_break"`
	Ready      bool      `json:"ready"` // false until a prior-week candle is known
}
