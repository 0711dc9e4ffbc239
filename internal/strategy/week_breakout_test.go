package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakoutbot/internal/model"
)

var (
	week1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	week2 = week1.AddDate(0, 0, 7)
)

var errExchange = errors.New("exchange unavailable")

// fakeMarket fills every order at the requested size.
type fakeMarket struct {
	qty   float64 // signed exchange position
	calls []string
	fail  map[string]error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{fail: map[string]error{}}
}

func (m *fakeMarket) record(call string, qty float64) error {
	m.calls = append(m.calls, fmt.Sprintf("%s %g", call, qty))
	return m.fail[call]
}

func (m *fakeMarket) OpenLong(_ context.Context, qty float64) (float64, error) {
	if err := m.record("open_long", qty); err != nil {
		return 0, err
	}
	m.qty = qty
	return qty, nil
}

func (m *fakeMarket) OpenShort(_ context.Context, qty float64) (float64, error) {
	if err := m.record("open_short", qty); err != nil {
		return 0, err
	}
	m.qty = -qty
	return qty, nil
}

func (m *fakeMarket) CloseLong(_ context.Context) (float64, error) {
	qty := m.qty
	if err := m.record("close_long", qty); err != nil {
		return 0, err
	}
	m.qty = 0
	return qty, nil
}

func (m *fakeMarket) CloseShort(_ context.Context) (float64, error) {
	qty := -m.qty
	if err := m.record("close_short", qty); err != nil {
		return 0, err
	}
	m.qty = 0
	return qty, nil
}

func (m *fakeMarket) AccountBalance(context.Context) (float64, error) { return 1000, nil }

type fakeJournal struct{ fills []model.Fill }

func (j *fakeJournal) RecordFill(f model.Fill) error {
	j.fills = append(j.fills, f)
	return nil
}

// series builds a week of 4h candles starting at start with the given open,
// peaking at high on candle 10 and bottoming at low on candle 30.
func series(start time.Time, open, high, low float64) []model.Candle {
	var out []model.Candle
	for i := 0; i < 42; i++ {
		c := model.Candle{
			Time:  start.Add(time.Duration(i) * 4 * time.Hour),
			Open:  open,
			High:  open + 1,
			Low:   open - 1,
			Close: open,
		}
		if i == 10 {
			c.High = high
		}
		if i == 30 {
			c.Low = low
		}
		out = append(out, c)
	}
	return out
}

type harness struct {
	t        *testing.T
	s        *WeekBreakout
	market   *fakeMarket
	journal  *fakeJournal
	messages []string
	history  []model.Candle
}

// newHarness returns a strategy whose second week has long/short levels
// weekOpen +/- range*rate, with the week's first candle already in history.
func newHarness(t *testing.T, cfg Config, weekOpen, high, low float64) *harness {
	t.Helper()
	h := &harness{t: t, market: newFakeMarket(), journal: &fakeJournal{}}

	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.BuyUnit == 0 {
		cfg.BuyUnit = 1
	}
	if cfg.LongRate == 0 {
		cfg.LongRate = 0.25
	}
	if cfg.ShortRate == 0 {
		cfg.ShortRate = 0.25
	}
	cfg.WeekStart = time.Monday
	cfg.FloorDecimals = 3

	s, err := NewWeekBreakout(cfg, Deps{
		Market:  h.market,
		Journal: h.journal,
		Notify:  func(text string) { h.messages = append(h.messages, text) },
	})
	require.NoError(t, err)
	h.s = s

	h.history = series(week1, weekOpen, high, low)
	h.history = append(h.history, model.Candle{Time: week2, Open: weekOpen, High: weekOpen, Low: weekOpen, Close: weekOpen})
	return h
}

func (h *harness) candle(at time.Duration, open, close float64) error {
	h.t.Helper()
	c := model.Candle{
		Time:  week2.Add(at),
		Open:  open,
		High:  max(open, close),
		Low:   min(open, close),
		Close: close,
	}
	h.history = append(h.history, c)
	return h.s.OnCandle(context.Background(), h.history, c)
}

func TestWeekBreakout_LongBreakoutOpensLong(t *testing.T) {
	// long break 105, short break 95
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))

	assert.Equal(t, []string{"open_long 1"}, h.market.calls)
	pos := h.s.Position()
	assert.Equal(t, model.SideLong, pos.Side())
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 110.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 105.0, pos.LosscutPrice, 1e-9)
	assert.True(t, pos.EntryTime.Equal(week2.Add(4*time.Hour)))

	require.Len(t, h.journal.fills, 1)
	assert.Equal(t, model.ActionOpenLong, h.journal.fills[0].Action)
	assert.NotEmpty(t, h.journal.fills[0].OrderID)
}

func TestWeekBreakout_ShortBreakoutOpensShort(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 90))

	assert.Equal(t, []string{"open_short 1"}, h.market.calls)
	assert.Equal(t, model.SideShort, h.s.Position().Side())
	assert.InDelta(t, -1.0, h.s.Position().Quantity, 1e-9)
}

func TestWeekBreakout_RequiresStrictlyBetween(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 105, 110)) // opens on the level
	require.NoError(t, h.candle(8*time.Hour, 100, 105)) // closes on the level
	require.NoError(t, h.candle(12*time.Hour, 106, 95)) // closes on the short level

	assert.Empty(t, h.market.calls)
	assert.True(t, h.s.Position().Flat())
}

func TestWeekBreakout_NoReentrySameDirection(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))
	require.NoError(t, h.candle(8*time.Hour, 100, 110))
	require.NoError(t, h.candle(52*time.Hour, 100, 110))

	assert.Equal(t, []string{"open_long 1"}, h.market.calls)
}

func TestWeekBreakout_SameDayReversalBlocked(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))
	require.NoError(t, h.candle(8*time.Hour, 100, 90))

	assert.Equal(t, []string{"open_long 1"}, h.market.calls)
	assert.Equal(t, model.SideLong, h.s.Position().Side())
}

func TestWeekBreakout_ReversalAfterCooldown(t *testing.T) {
	h := newHarness(t, Config{CommissionRate: 0.1}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))
	require.NoError(t, h.candle(28*time.Hour, 100, 90))

	assert.Equal(t, []string{"open_long 1", "close_long 1", "open_short 1"}, h.market.calls)
	pos := h.s.Position()
	assert.InDelta(t, -1.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 90.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 95.0, pos.LosscutPrice, 1e-9)

	// (90-110)*1 - (110+90)*1*0.1%
	st := h.s.Capital().State()
	assert.InDelta(t, -20.2, st.RealizedPnL, 1e-9)
	assert.Equal(t, 1, st.Trades)
	require.Len(t, h.journal.fills, 3)
	assert.InDelta(t, -20.2, h.journal.fills[1].PnL, 1e-9)
}

func TestWeekBreakout_LongStopLoss(t *testing.T) {
	// week open 90, prior range 80..100, rates 0.5: long 100, short 80
	h := newHarness(t, Config{LongRate: 0.5, ShortRate: 0.5, CommissionRate: 0.1}, 90, 100, 80)
	h.market.qty = 1
	h.s.Restore(model.Status{Position: model.PositionState{
		Quantity:     1,
		EntryPrice:   102,
		EntryTime:    week2.Add(-48 * time.Hour),
		LosscutPrice: 95,
	}})

	require.NoError(t, h.candle(4*time.Hour, 104, 90))

	assert.Equal(t, []string{"close_long 1"}, h.market.calls)
	assert.True(t, h.s.Position().Flat())
	// (90-102) - (102+90)*0.1%
	assert.InDelta(t, -12.192, h.s.Capital().State().RealizedPnL, 1e-9)
}

func TestWeekBreakout_ShortStopLoss(t *testing.T) {
	h := newHarness(t, Config{LongRate: 0.5, ShortRate: 0.5}, 90, 100, 80)
	h.market.qty = -1
	h.s.Restore(model.Status{Position: model.PositionState{
		Quantity:     -1,
		EntryPrice:   78,
		EntryTime:    week2.Add(-48 * time.Hour),
		LosscutPrice: 85,
	}})

	// min(short 80, losscut 85) = 80 sits strictly between open and close
	require.NoError(t, h.candle(4*time.Hour, 76, 84))

	assert.Equal(t, []string{"close_short 1"}, h.market.calls)
	assert.True(t, h.s.Position().Flat())
	assert.InDelta(t, -6.0, h.s.Capital().State().RealizedPnL, 1e-9)
}

func TestWeekBreakout_StopLossWaitsForCooldown(t *testing.T) {
	h := newHarness(t, Config{LongRate: 0.5, ShortRate: 0.5}, 90, 100, 80)
	h.market.qty = 1
	h.s.Restore(model.Status{Position: model.PositionState{
		Quantity:     1,
		EntryPrice:   102,
		EntryTime:    week2.Add(-2 * time.Hour),
		LosscutPrice: 95,
	}})

	require.NoError(t, h.candle(4*time.Hour, 104, 90))

	assert.Empty(t, h.market.calls)
	assert.Equal(t, model.SideLong, h.s.Position().Side())
}

func TestWeekBreakout_NotReadyWithoutPriorWeek(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)
	h.history = h.history[len(h.history)-1:]

	require.NoError(t, h.candle(4*time.Hour, 100, 200))

	assert.Empty(t, h.market.calls)
	require.Len(t, h.messages, 1)
	assert.Contains(t, h.messages[0], "ready[false]")
}

func TestWeekBreakout_BuyDelay(t *testing.T) {
	h := newHarness(t, Config{BuyDelay: 8 * time.Hour}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))
	assert.Empty(t, h.market.calls)

	require.NoError(t, h.candle(12*time.Hour, 100, 110))
	assert.Equal(t, []string{"open_long 1"}, h.market.calls)
}

func TestWeekBreakout_SizingUsesBudget(t *testing.T) {
	h := newHarness(t, Config{BuyUnit: 5, MaxBudget: 330}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 110))

	// min(5, 330/110 = 3)
	assert.Equal(t, []string{"open_long 3"}, h.market.calls)
}

func TestWeekBreakout_OpenErrorPropagates(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)
	h.market.fail["open_long"] = errExchange

	err := h.candle(4*time.Hour, 100, 110)

	require.Error(t, err)
	assert.ErrorIs(t, err, errExchange)
	assert.True(t, h.s.Position().Flat())
	assert.Empty(t, h.journal.fills)
	require.Len(t, h.messages, 1)
	assert.Contains(t, h.messages[0], "error[")
}

func TestWeekBreakout_CloseThenFailedOpenStaysFlat(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)
	h.market.qty = -1
	h.s.Restore(model.Status{Position: model.PositionState{
		Quantity:     -1,
		EntryPrice:   98,
		EntryTime:    week2.Add(-48 * time.Hour),
		LosscutPrice: 95,
	}})
	h.market.fail["open_long"] = errExchange

	err := h.candle(4*time.Hour, 100, 110)

	assert.ErrorIs(t, err, errExchange)
	assert.Equal(t, []string{"close_short 1", "open_long 1"}, h.market.calls)
	assert.True(t, h.s.Position().Flat())
	assert.Equal(t, 1, h.s.Capital().State().Trades)
}

func TestWeekBreakout_UnfilledCloseKeepsPosition(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)
	h.s.Restore(model.Status{Position: model.PositionState{
		Quantity:     1,
		EntryPrice:   102,
		EntryTime:    week2.Add(-48 * time.Hour),
		LosscutPrice: 105,
	}})
	// the exchange holds nothing, so the close fills zero

	require.NoError(t, h.candle(4*time.Hour, 100, 90))

	assert.Equal(t, []string{"close_long 0"}, h.market.calls, "no reverse open after an unfilled close")
	pos := h.s.Position()
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 102.0, pos.EntryPrice, 1e-9)
	assert.Zero(t, h.s.Capital().State().Trades)
	assert.Empty(t, h.journal.fills)
	require.Len(t, h.messages, 1)
	assert.Contains(t, h.messages[0], "CLOSE_LONG unfilled")
}

func TestWeekBreakout_ExplainOncePerCandle(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)

	require.NoError(t, h.candle(4*time.Hour, 100, 101))
	require.NoError(t, h.candle(8*time.Hour, 100, 110))

	require.Len(t, h.messages, 2)
	assert.NotContains(t, h.messages[0], "actions[")
	assert.Contains(t, h.messages[1], "long_entry[true]")
	assert.Contains(t, h.messages[1], "actions[OPEN_LONG")
	assert.True(t, strings.HasPrefix(h.messages[1], "2024-01-08 08:00:00 UTC"))
}

func TestWeekBreakout_BacktestSuppressesMessages(t *testing.T) {
	var sent int
	s, err := NewWeekBreakout(Config{Symbol: "BTCUSDT", BuyUnit: 1, LongRate: 0.25, ShortRate: 0.25}, Deps{
		Market:   newFakeMarket(),
		Backtest: true,
		Notify:   func(string) { sent++ },
	})
	require.NoError(t, err)

	history := series(week1, 100, 110, 90)
	c := model.Candle{Time: week2, Open: 100, High: 110, Low: 100, Close: 110}
	require.NoError(t, s.OnCandle(context.Background(), append(history, c), c))
	assert.Zero(t, sent)
}

func TestWeekBreakout_RestoreFlatClearsEntryTime(t *testing.T) {
	h := newHarness(t, Config{}, 100, 110, 90)
	h.s.Restore(model.Status{Position: model.PositionState{EntryTime: week2.Add(2 * time.Hour)}})

	require.NoError(t, h.candle(4*time.Hour, 100, 110))
	assert.Equal(t, []string{"open_long 1"}, h.market.calls)
}

func TestNewWeekBreakout_Validation(t *testing.T) {
	_, err := NewWeekBreakout(Config{LongRate: 0.5, ShortRate: 0.5}, Deps{})
	assert.Error(t, err)

	_, err = NewWeekBreakout(Config{LongRate: 0, ShortRate: 0.5}, Deps{Market: newFakeMarket()})
	assert.Error(t, err)

	_, err = NewWeekBreakout(Config{LongRate: 1.5, ShortRate: 0.5}, Deps{Market: newFakeMarket()})
	assert.Error(t, err)
}
