package model

import "time"

// Action is an order action issued by the strategy.
type Action string

const (
	ActionOpenLong   Action = "OPEN_LONG"
	ActionOpenShort  Action = "OPEN_SHORT"
	ActionCloseLong  Action = "CLOSE_LONG"
	ActionCloseShort Action = "CLOSE_SHORT"
)

// Fill is a confirmed open or close, recorded in the trade journal.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Strategy string    `json:"strategy"`
	Symbol   string    `json:"symbol"`
	Action   Action    `json:"action"`
	Qty      float64   `json:"qty"` // filled quantity, always positive
	Price    float64   `json:"price"`
	PnL      float64   `json:"pnl"`       // realized on closes, zero on opens
	Reason   string    `json:"reason"`    // e.g. "long breakout", "long stop-loss"
	FilledAt time.Time `json:"filled_at"` // candle time of the decision
}
