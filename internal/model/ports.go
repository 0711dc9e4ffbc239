package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the strategy engine from concrete collaborators
// (exchange, storage, messaging). Each implementation satisfies one of them.

// CandleHandler is invoked once per closed candle, never concurrently.
// history is ascending and ends with c.
type CandleHandler func(ctx context.Context, history []Candle, c Candle) error

// CandleFeed delivers closed candles to a CandleHandler.
type CandleFeed interface {
	// Load performs one-time setup (backfill, historical read).
	Load(ctx context.Context) error

	// Start delivers candles. Backtest feeds return after the last candle;
	// live feeds block until ctx is cancelled.
	Start(ctx context.Context) error
}

// MarketAPI places orders for the traded symbol.
// Every mutator returns the quantity actually filled; callers must use it
// instead of the requested quantity.
type MarketAPI interface {
	OpenLong(ctx context.Context, qty float64) (float64, error)
	OpenShort(ctx context.Context, qty float64) (float64, error)
	CloseLong(ctx context.Context) (float64, error)
	CloseShort(ctx context.Context) (float64, error)
	AccountBalance(ctx context.Context) (float64, error)
}

// CandleSource reads historical candles for a bounded date range.
type CandleSource interface {
	// ReadCandles returns candles with from <= Time <= to, ascending.
	ReadCandles(ctx context.Context, symbol, period string, from, to time.Time) ([]Candle, error)
}

// CandleWriter persists closed candles.
type CandleWriter interface {
	WriteCandles(ctx context.Context, symbol, period string, candles []Candle) error
}

// Messenger delivers a text notification to an external channel.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// StatusStore persists the bot status between restarts.
type StatusStore interface {
	SaveStatus(ctx context.Context, status Status) error

	// LoadStatus returns nil, nil if no status has been saved.
	LoadStatus(ctx context.Context, symbol string) (*Status, error)
}

// TradeRecorder journals confirmed fills.
type TradeRecorder interface {
	RecordFill(fill Fill) error
}
