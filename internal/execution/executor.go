// Package execution places the strategy's orders. PaperExecutor simulates
// fills for paper trading and backtests; Executor wraps any MarketAPI with
// order logging and timing hooks; Journal persists fills to SQLite.
package execution

import (
	"context"
	"log"
	"time"

	"breakoutbot/internal/model"
)

// OrderResult is the outcome of one MarketAPI call.
type OrderResult struct {
	Action model.Action
	Qty    float64 // requested for opens, filled for closes
	Filled float64
	Took   time.Duration
	Err    error
}

// Executor decorates a MarketAPI with logging and an optional result hook.
type Executor struct {
	market model.MarketAPI

	// Hook (optional)
	OnOrder func(r OrderResult)
}

var _ model.MarketAPI = (*Executor)(nil)

// NewExecutor wraps market.
func NewExecutor(market model.MarketAPI) *Executor {
	return &Executor{market: market}
}

func (e *Executor) OpenLong(ctx context.Context, qty float64) (float64, error) {
	return e.do(model.ActionOpenLong, qty, func() (float64, error) { return e.market.OpenLong(ctx, qty) })
}

func (e *Executor) OpenShort(ctx context.Context, qty float64) (float64, error) {
	return e.do(model.ActionOpenShort, qty, func() (float64, error) { return e.market.OpenShort(ctx, qty) })
}

func (e *Executor) CloseLong(ctx context.Context) (float64, error) {
	return e.do(model.ActionCloseLong, 0, func() (float64, error) { return e.market.CloseLong(ctx) })
}

func (e *Executor) CloseShort(ctx context.Context) (float64, error) {
	return e.do(model.ActionCloseShort, 0, func() (float64, error) { return e.market.CloseShort(ctx) })
}

func (e *Executor) AccountBalance(ctx context.Context) (float64, error) {
	return e.market.AccountBalance(ctx)
}

func (e *Executor) do(action model.Action, qty float64, call func() (float64, error)) (float64, error) {
	start := time.Now()
	filled, err := call()
	r := OrderResult{Action: action, Qty: qty, Filled: filled, Took: time.Since(start), Err: err}

	if err != nil {
		log.Printf("[executor] %s qty=%v failed after %v: %v", action, qty, r.Took, err)
	} else {
		log.Printf("[executor] %s filled=%v in %v", action, filled, r.Took)
	}
	if e.OnOrder != nil {
		e.OnOrder(r)
	}
	return filled, err
}
