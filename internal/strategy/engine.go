// Package strategy provides the candle-driven strategy engine.
//
// A Strategy receives closed candles (with the history retained by the feed)
// and turns them into position opens and closes through a MarketAPI.
// Strategies never know whether candles are live or replayed: both feeds
// call the same model.CandleHandler.
package strategy

import (
	"context"
	"time"

	"breakoutbot/internal/model"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Ready is called once after status restore and before the feed starts.
	Ready(ctx context.Context) error

	// OnCandle evaluates one closed candle. Errors from the MarketAPI are
	// returned unchanged in meaning (wrapped) and abort the evaluation.
	OnCandle(ctx context.Context, history []model.Candle, c model.Candle) error

	// Status returns the state to persist.
	Status() model.Status

	// Restore loads a previously persisted state.
	Restore(st model.Status)
}

// Deps is the dependency set a strategy is constructed with. It is fixed
// for the strategy's lifetime.
type Deps struct {
	Market   model.MarketAPI     // required
	Notify   func(text string)   // non-blocking; nil discards messages
	Journal  model.TradeRecorder // optional
	Location *time.Location      // bot timezone; nil = UTC
	Backtest bool                // true suppresses notifications

	// Hooks (optional)
	OnEvaluate func(c model.Candle, st model.IndicatorState, pos model.PositionState, took time.Duration)
	OnFill     func(fill model.Fill, status model.Status)
}

// Handler adapts a Strategy to the feed callback signature.
func Handler(s Strategy) model.CandleHandler {
	return func(ctx context.Context, history []model.Candle, c model.Candle) error {
		return s.OnCandle(ctx, history, c)
	}
}
