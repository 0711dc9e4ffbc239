package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"breakoutbot/internal/indicator"
	"breakoutbot/internal/logger"
	"breakoutbot/internal/markethours"
	"breakoutbot/internal/model"
	"breakoutbot/internal/portfolio"
)

// Config holds the weekly breakout parameters.
type Config struct {
	Symbol         string
	Base           string
	Quote          string
	FloorDecimals  int
	InitCapital    float64
	MaxBudget      float64
	CommissionRate float64 // percent per side
	Paper          bool
	BuyUnit        float64
	BuyDelay       time.Duration // candle time to wait after the first candle before trading
	WeekStart      time.Weekday
	HourStart      int
	LongRate       float64
	ShortRate      float64
}

// WeekBreakout trades breakouts of the weekly levels computed by
// indicator.WeekBreakout.
//
// Rules, evaluated in order on every closed candle:
//
//  1. open < long_break < close: close a short, then open a long.
//  2. close < short_break < open: close a long, then open a short.
//  3. long and close < min(long_break, losscut) < open: stop out.
//  4. short and open < min(short_break, losscut) < close: stop out.
//
// Every rule also requires one whole day since the current entry.
// The position is owned by this type and only changes after the MarketAPI
// confirms a fill.
type WeekBreakout struct {
	cfg     Config
	deps    Deps
	loc     *time.Location
	ind     *indicator.WeekBreakout
	sizer   portfolio.Sizer
	capital *portfolio.Capital

	pos         model.PositionState
	firstCandle time.Time
	lastClose   float64
}

// NewWeekBreakout creates the strategy. deps.Market is required.
func NewWeekBreakout(cfg Config, deps Deps) (*WeekBreakout, error) {
	if deps.Market == nil {
		return nil, errors.New("strategy: market api is required")
	}
	if cfg.LongRate <= 0 || cfg.LongRate > 1 || cfg.ShortRate <= 0 || cfg.ShortRate > 1 {
		return nil, fmt.Errorf("strategy: rates must be in (0,1], got long=%v short=%v", cfg.LongRate, cfg.ShortRate)
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	if deps.Notify == nil {
		deps.Notify = func(string) {}
	}

	return &WeekBreakout{
		cfg:  cfg,
		deps: deps,
		loc:  loc,
		ind: indicator.NewWeekBreakout(indicator.WeekAnchor{
			Week:      markethours.NewWeek(cfg.WeekStart, cfg.HourStart, loc),
			LongRate:  cfg.LongRate,
			ShortRate: cfg.ShortRate,
		}),
		sizer: portfolio.Sizer{
			BuyUnit:       cfg.BuyUnit,
			MaxBudget:     cfg.MaxBudget,
			FloorDecimals: cfg.FloorDecimals,
		},
		capital: portfolio.NewCapital(cfg.InitCapital, cfg.CommissionRate),
	}, nil
}

func (s *WeekBreakout) Name() string { return "WeekBreakout" }

// Position returns the current position.
func (s *WeekBreakout) Position() model.PositionState { return s.pos }

// Capital returns the capital tracker.
func (s *WeekBreakout) Capital() *portfolio.Capital { return s.capital }

// Ready logs a wallet summary before trading starts.
func (s *WeekBreakout) Ready(ctx context.Context) error {
	balance, err := s.deps.Market.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("strategy: account balance: %w", err)
	}
	capital := s.capital.State()
	slog.InfoContext(ctx, "wallet summary",
		slog.String("symbol", s.cfg.Symbol),
		slog.String("quote", s.cfg.Quote),
		slog.Float64("balance", balance),
		slog.Float64("initial_capital", capital.InitialCapital),
		slog.Float64("realized_pnl", capital.RealizedPnL),
		slog.Float64("position", s.pos.Quantity),
		slog.Bool("paper", s.cfg.Paper),
	)
	return nil
}

// Summary reports capital with the open position marked at the last close.
func (s *WeekBreakout) Summary() portfolio.Summary {
	return s.capital.GetSummary(s.pos, s.lastClose)
}

// Status returns the state to persist.
func (s *WeekBreakout) Status() model.Status {
	return model.Status{
		Symbol:    s.cfg.Symbol,
		Position:  s.pos,
		Capital:   s.capital.State(),
		UpdatedAt: time.Now().UTC(),
	}
}

// Restore loads a persisted state. A flat position always gets a zero
// entry time so the cooldown never blocks the next entry.
func (s *WeekBreakout) Restore(st model.Status) {
	s.pos = st.Position
	if s.pos.Flat() {
		s.pos = model.PositionState{}
	}
	s.capital.Restore(st.Capital)
}

// OnCandle evaluates one closed candle.
func (s *WeekBreakout) OnCandle(ctx context.Context, history []model.Candle, c model.Candle) error {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Symbol, c.Time))
	local := c.Time.In(s.loc)

	if s.firstCandle.IsZero() {
		s.firstCandle = c.Time
	}
	s.lastClose = c.Close

	st := s.ind.Update(history, c)
	longEntry := st.Ready && c.Open < st.LongBreak && st.LongBreak < c.Close
	shortEntry := st.Ready && c.Close < st.ShortBreak && st.ShortBreak < c.Open
	cooldown := markethours.CooldownElapsed(s.pos.EntryTime, local)
	before := s.pos

	var actions []string
	err := s.evaluate(ctx, c, local, st, longEntry, shortEntry, &actions)

	s.emit(ctx, explain(local, before, c, st, longEntry, shortEntry, cooldown, actions, err))

	if s.deps.OnEvaluate != nil {
		s.deps.OnEvaluate(c, st, s.pos, time.Since(start))
	}
	return err
}

func (s *WeekBreakout) evaluate(ctx context.Context, c model.Candle, local time.Time, st model.IndicatorState,
	longEntry, shortEntry bool, actions *[]string) error {
	if !st.Ready {
		return nil
	}
	if c.Time.Sub(s.firstCandle) < s.cfg.BuyDelay {
		return nil
	}

	// 1. Long breakout.
	if longEntry && s.cooldownElapsed(local) {
		if s.pos.Quantity < 0 {
			if err := s.closeShort(ctx, c, "long breakout reversal", actions); err != nil {
				return err
			}
		}
		if s.pos.Flat() {
			if err := s.openLong(ctx, c, local, st.LongBreak, actions); err != nil {
				return err
			}
		}
	}

	// 2. Short breakout.
	if shortEntry && s.cooldownElapsed(local) {
		if s.pos.Quantity > 0 {
			if err := s.closeLong(ctx, c, "short breakout reversal", actions); err != nil {
				return err
			}
		}
		if s.pos.Flat() {
			if err := s.openShort(ctx, c, local, st.ShortBreak, actions); err != nil {
				return err
			}
		}
	}

	// 3. Long stop-loss: price falls back through the lower of the two levels.
	if s.pos.Quantity > 0 {
		level := math.Min(st.LongBreak, s.pos.LosscutPrice)
		if c.Close < level && level < c.Open && s.cooldownElapsed(local) {
			if err := s.closeLong(ctx, c, "long stop-loss", actions); err != nil {
				return err
			}
		}
	}

	// 4. Short stop-loss: price rises back through the lower of the two levels.
	if s.pos.Quantity < 0 {
		level := math.Min(st.ShortBreak, s.pos.LosscutPrice)
		if c.Close > level && level > c.Open && s.cooldownElapsed(local) {
			if err := s.closeShort(ctx, c, "short stop-loss", actions); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *WeekBreakout) cooldownElapsed(local time.Time) bool {
	return markethours.CooldownElapsed(s.pos.EntryTime, local)
}

func (s *WeekBreakout) openLong(ctx context.Context, c model.Candle, local time.Time, ref float64, actions *[]string) error {
	qty := s.sizer.Quantity(c.Close)
	if qty <= 0 {
		slog.WarnContext(ctx, "long entry skipped: zero quantity", logger.LogWithTrace(ctx)...)
		return nil
	}
	filled, err := s.deps.Market.OpenLong(ctx, qty)
	if err != nil {
		return fmt.Errorf("strategy: open long %v: %w", qty, err)
	}
	if filled <= 0 {
		return nil
	}
	s.pos = model.PositionState{
		Quantity:     filled,
		EntryPrice:   c.Close,
		EntryTime:    local,
		LosscutPrice: ref,
	}
	s.capital.MarkOpen(filled, c.Close)
	s.fill(ctx, model.ActionOpenLong, filled, c, 0, "long breakout", actions)
	return nil
}

func (s *WeekBreakout) openShort(ctx context.Context, c model.Candle, local time.Time, ref float64, actions *[]string) error {
	qty := s.sizer.Quantity(c.Close)
	if qty <= 0 {
		slog.WarnContext(ctx, "short entry skipped: zero quantity", logger.LogWithTrace(ctx)...)
		return nil
	}
	filled, err := s.deps.Market.OpenShort(ctx, qty)
	if err != nil {
		return fmt.Errorf("strategy: open short %v: %w", qty, err)
	}
	if filled <= 0 {
		return nil
	}
	s.pos = model.PositionState{
		Quantity:     -filled,
		EntryPrice:   c.Close,
		EntryTime:    local,
		LosscutPrice: ref,
	}
	s.capital.MarkOpen(filled, c.Close)
	s.fill(ctx, model.ActionOpenShort, filled, c, 0, "short breakout", actions)
	return nil
}

func (s *WeekBreakout) closeLong(ctx context.Context, c model.Candle, reason string, actions *[]string) error {
	filled, err := s.deps.Market.CloseLong(ctx)
	if err != nil {
		return fmt.Errorf("strategy: close long: %w", err)
	}
	if filled <= 0 {
		s.unfilledClose(ctx, model.ActionCloseLong, actions)
		return nil
	}
	pnl := s.capital.Realize(s.pos.EntryPrice, c.Close, filled)
	s.pos = model.PositionState{}
	s.fill(ctx, model.ActionCloseLong, filled, c, pnl, reason, actions)
	return nil
}

func (s *WeekBreakout) closeShort(ctx context.Context, c model.Candle, reason string, actions *[]string) error {
	filled, err := s.deps.Market.CloseShort(ctx)
	if err != nil {
		return fmt.Errorf("strategy: close short: %w", err)
	}
	if filled <= 0 {
		s.unfilledClose(ctx, model.ActionCloseShort, actions)
		return nil
	}
	pnl := s.capital.Realize(s.pos.EntryPrice, c.Close, -filled)
	s.pos = model.PositionState{}
	s.fill(ctx, model.ActionCloseShort, filled, c, pnl, reason, actions)
	return nil
}

// unfilledClose keeps the position as it was when the exchange reports
// nothing closed. The reverse open guarded by Flat is skipped with it.
func (s *WeekBreakout) unfilledClose(ctx context.Context, action model.Action, actions *[]string) {
	attrs := append([]any{
		slog.String("action", string(action)),
		slog.Float64("position", s.pos.Quantity),
	}, logger.LogWithTrace(ctx)...)
	slog.WarnContext(ctx, "close filled nothing, position kept", attrs...)
	*actions = append(*actions, fmt.Sprintf("%s unfilled", action))
}

// fill records a confirmed fill in the journal, the log and the hooks.
func (s *WeekBreakout) fill(ctx context.Context, action model.Action, qty float64, c model.Candle, pnl float64,
	reason string, actions *[]string) {
	f := model.Fill{
		OrderID:  uuid.NewString(),
		Strategy: s.Name(),
		Symbol:   s.cfg.Symbol,
		Action:   action,
		Qty:      qty,
		Price:    c.Close,
		PnL:      pnl,
		Reason:   reason,
		FilledAt: c.Time,
	}
	*actions = append(*actions, fmt.Sprintf("%s %.*f@%.3f", action, s.cfg.FloorDecimals, qty, c.Close))

	attrs := append([]any{
		slog.String("action", string(action)),
		slog.Float64("qty", qty),
		slog.Float64("price", c.Close),
		slog.Float64("pnl", pnl),
		slog.String("reason", reason),
	}, logger.LogWithTrace(ctx)...)
	slog.InfoContext(ctx, "fill", attrs...)

	if s.deps.Journal != nil {
		if err := s.deps.Journal.RecordFill(f); err != nil {
			slog.ErrorContext(ctx, "journal write failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.OnFill != nil {
		s.deps.OnFill(f, s.Status())
	}
}

func (s *WeekBreakout) emit(ctx context.Context, text string) {
	if s.deps.Backtest {
		slog.DebugContext(ctx, text, logger.LogWithTrace(ctx)...)
		return
	}
	slog.InfoContext(ctx, text, logger.LogWithTrace(ctx)...)
	s.deps.Notify(text)
}

// explain renders the per-candle state snapshot sent to the messenger.
func explain(local time.Time, pos model.PositionState, c model.Candle, st model.IndicatorState,
	longEntry, shortEntry, cooldown bool, actions []string, err error) string {
	entry := "never"
	if !pos.EntryTime.IsZero() {
		entry = pos.EntryTime.Format("2006-01-02 15:04:05")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s position[%0.3f] open[%0.3f] long[%0.3f] short[%0.3f] close[%0.3f] entry_time[%s]\n",
		local.Format("2006-01-02 15:04:05 MST"), pos.Quantity, c.Open, st.LongBreak, st.ShortBreak, c.Close, entry)
	fmt.Fprintf(&b, "long_entry[%t] short_entry[%t] time_condition[%t] ready[%t]",
		longEntry, shortEntry, cooldown, st.Ready)
	if len(actions) > 0 {
		fmt.Fprintf(&b, "\nactions[%s]", strings.Join(actions, ", "))
	}
	if err != nil {
		fmt.Fprintf(&b, "\nerror[%v]", err)
	}
	return b.String()
}
