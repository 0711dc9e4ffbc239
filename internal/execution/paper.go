package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"breakoutbot/internal/model"
)

// ErrNoMark is returned when an order arrives before any price was marked.
var ErrNoMark = errors.New("paper: no mark price")

// PaperFill is one simulated fill.
type PaperFill struct {
	OrderID  string       `json:"order_id"`
	Action   model.Action `json:"action"`
	Qty      float64      `json:"qty"`
	Price    float64      `json:"price"`
	FilledAt time.Time    `json:"filled_at"`
}

// PaperExecutor simulates a futures account without broker calls.
// Orders fill in full at the last marked price.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []PaperFill
	balance  float64
	position float64 // signed
	entry    float64
	mark     float64
	markTime time.Time
}

var _ model.MarketAPI = (*PaperExecutor)(nil)

// NewPaperExecutor creates a paper account holding balance in quote asset.
func NewPaperExecutor(balance float64) *PaperExecutor {
	return &PaperExecutor{
		fills:   make([]PaperFill, 0, 64),
		balance: balance,
	}
}

// Mark sets the price and time used for the next fills. The runner marks
// every candle's close before the strategy sees it.
func (p *PaperExecutor) Mark(price float64, at time.Time) {
	p.mu.Lock()
	p.mark = price
	p.markTime = at
	p.mu.Unlock()
}

// Seed sets an open position, e.g. one restored from a saved status.
func (p *PaperExecutor) Seed(position, entry float64) {
	p.mu.Lock()
	p.position = position
	p.entry = entry
	p.mu.Unlock()
}

// Position returns the signed simulated position.
func (p *PaperExecutor) Position() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []PaperFill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]PaperFill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) OpenLong(_ context.Context, qty float64) (float64, error) {
	return p.open(model.ActionOpenLong, qty)
}

func (p *PaperExecutor) OpenShort(_ context.Context, qty float64) (float64, error) {
	return p.open(model.ActionOpenShort, -qty)
}

func (p *PaperExecutor) CloseLong(context.Context) (float64, error) {
	return p.close(model.ActionCloseLong, 1)
}

func (p *PaperExecutor) CloseShort(context.Context) (float64, error) {
	return p.close(model.ActionCloseShort, -1)
}

// AccountBalance returns the starting balance plus realized gross P&L.
func (p *PaperExecutor) AccountBalance(context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

func (p *PaperExecutor) open(action model.Action, signed float64) (float64, error) {
	if signed == 0 {
		return 0, fmt.Errorf("paper: %s with zero quantity", action)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mark <= 0 {
		return 0, ErrNoMark
	}
	if p.position != 0 {
		return 0, fmt.Errorf("paper: %s while holding %v", action, p.position)
	}
	p.position = signed
	p.entry = p.mark
	p.record(action, math.Abs(signed))
	return math.Abs(signed), nil
}

// close flattens the position if its sign matches side. Closing with no
// matching position fills zero.
func (p *PaperExecutor) close(action model.Action, side float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.position*side <= 0 {
		return 0, nil
	}
	if p.mark <= 0 {
		return 0, ErrNoMark
	}
	qty := math.Abs(p.position)
	p.balance += (p.mark - p.entry) * p.position
	p.position = 0
	p.entry = 0
	p.record(action, qty)
	return qty, nil
}

func (p *PaperExecutor) record(action model.Action, qty float64) {
	f := PaperFill{
		OrderID:  "PAPER-" + uuid.NewString()[:8],
		Action:   action,
		Qty:      qty,
		Price:    p.mark,
		FilledAt: p.markTime,
	}
	p.fills = append(p.fills, f)
	log.Printf("[paper] %s qty=%v price=%v order=%s", action, qty, p.mark, f.OrderID)
}
