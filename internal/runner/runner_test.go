package runner

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakoutbot/config"
	"breakoutbot/internal/exchange/binance"
	"breakoutbot/internal/metrics"
	"breakoutbot/internal/model"
)

var week1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday

// priorWeek is flat at 100 with a 90..110 range, so the next week opening
// at 100 has long_break 112 and short_break 90.
func priorWeek() []model.Candle {
	var out []model.Candle
	for i := 0; i < 42; i++ {
		c := model.Candle{Time: week1.Add(time.Duration(i) * 4 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100}
		if i == 5 {
			c.High = 110
		}
		if i == 20 {
			c.Low = 90
		}
		out = append(out, c)
	}
	return out
}

func bar(t time.Time, open, close float64) model.Candle {
	hi, lo := open, close
	if close > open {
		hi, lo = close, open
	}
	return model.Candle{Time: t, Open: open, High: hi + 1, Low: lo - 1, Close: close}
}

type sliceSource []model.Candle

func (s sliceSource) ReadCandles(_ context.Context, _, _ string, _, _ time.Time) ([]model.Candle, error) {
	return s, nil
}

type memJournal struct {
	mu    sync.Mutex
	fills []model.Fill
}

func (j *memJournal) RecordFill(f model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, f)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.BuyDelay = 0
	cfg.SendInterval = time.Millisecond
	cfg.IdleInterval = 5 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBacktest_EndToEnd(t *testing.T) {
	week2 := week1.AddDate(0, 0, 7)
	candles := append(priorWeek(),
		bar(week2, 100, 100),
		bar(week2.Add(4*time.Hour), 105, 115), // long breakout
		bar(week2.Add(28*time.Hour), 95, 85),  // short breakout a day later
		bar(week2.Add(32*time.Hour), 85, 86),
	)

	journal := &memJournal{}
	m := metrics.NewMetrics()
	r, err := NewBacktest(testConfig(t), BacktestOptions{Source: sliceSource(candles)}, Deps{
		Journal: journal,
		Metrics: m,
	})
	require.NoError(t, err)
	require.NotNil(t, r.Paper())

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, len(candles), r.Candles())
	assert.Equal(t, float64(len(candles)), testutil.ToFloat64(m.CandlesTotal))

	require.Len(t, journal.fills, 3)
	assert.Equal(t, model.ActionOpenLong, journal.fills[0].Action)
	assert.Equal(t, model.ActionCloseLong, journal.fills[1].Action)
	assert.Equal(t, model.ActionOpenShort, journal.fills[2].Action)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues(string(model.ActionCloseLong))))

	// (85-115)*0.01 minus (115+85)*0.01*0.1%.
	s := r.Summary()
	assert.Equal(t, 1, s.Trades)
	assert.InDelta(t, -0.302, s.RealizedPnL, 1e-9)
	assert.InDelta(t, -0.01, r.Strategy().Position().Quantity, 1e-12)
	assert.InDelta(t, -0.01, r.Paper().Position(), 1e-12)
	assert.Len(t, r.Paper().GetFills(), 3)

	var out bytes.Buffer
	r.PrintSummary(&out)
	assert.Contains(t, out.String(), "BACKTEST COMPLETE")
	assert.Contains(t, out.String(), "BTCUSDT")
}

type failingSource struct{}

func (failingSource) ReadCandles(context.Context, string, string, time.Time, time.Time) ([]model.Candle, error) {
	return nil, errors.New("disk on fire")
}

func TestBacktest_SourceErrorAborts(t *testing.T) {
	r, err := NewBacktest(testConfig(t), BacktestOptions{Source: failingSource{}}, Deps{})
	require.NoError(t, err)
	assert.ErrorContains(t, r.Run(context.Background()), "disk on fire")
}

func TestNewBacktest_RequiresSource(t *testing.T) {
	_, err := NewBacktest(testConfig(t), BacktestOptions{}, Deps{})
	assert.Error(t, err)
}

// ── live ──

type fakeHistory struct{ candles []model.Candle }

func (h fakeHistory) ClosedCandles(context.Context, string, string, int) ([]model.Candle, error) {
	return h.candles, nil
}

type fakeStream struct{ klines []binance.Kline }

func (s fakeStream) SubscribeKlines(ctx context.Context, _, _ string) (<-chan binance.Kline, func(), error) {
	ch := make(chan binance.Kline)
	go func() {
		defer close(ch)
		for _, k := range s.klines {
			select {
			case ch <- k:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, func() {}, nil
}

func kline(c model.Candle, closed bool) binance.Kline {
	return binance.Kline{
		Symbol:   "BTCUSDT",
		Interval: "4h",
		OpenTime: c.Time.UnixMilli(),
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Closed:   closed,
	}
}

type memStatus struct {
	mu     sync.Mutex
	loaded *model.Status
	saved  []model.Status
	onSave chan struct{}
}

func (s *memStatus) SaveStatus(_ context.Context, st model.Status) error {
	s.mu.Lock()
	s.saved = append(s.saved, st)
	s.mu.Unlock()
	select {
	case s.onSave <- struct{}{}:
	default:
	}
	return nil
}

func (s *memStatus) LoadStatus(context.Context, string) (*model.Status, error) {
	return s.loaded, nil
}

type memMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *memMessenger) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *memMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func TestLive_PaperFillSavesStatus(t *testing.T) {
	week2 := week1.AddDate(0, 0, 7)
	backfill := append(priorWeek(), bar(week2, 100, 100))
	breakout := bar(week2.Add(4*time.Hour), 105, 115)

	status := &memStatus{onSave: make(chan struct{}, 1)}
	messenger := &memMessenger{}
	health := metrics.NewHealthStatus("live", "BTCUSDT")

	r, err := NewLive(testConfig(t), LiveOptions{
		History: fakeHistory{candles: backfill},
		Stream: fakeStream{klines: []binance.Kline{
			kline(breakout, false), // still forming, ignored
			kline(breakout, true),
		}},
	}, Deps{Status: status, Messenger: messenger, Health: health, Metrics: metrics.NewMetrics()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-status.onSave:
	case <-time.After(5 * time.Second):
		t.Fatal("no status saved after the breakout candle")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	status.mu.Lock()
	saved := status.saved[0]
	status.mu.Unlock()
	assert.InDelta(t, 0.01, saved.Position.Quantity, 1e-12)
	assert.Equal(t, 115.0, saved.Position.EntryPrice)
	assert.Equal(t, 1, r.Candles(), "backfilled candles are not evaluated")

	msgs := messenger.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "bot started")
	assert.True(t, health.FeedConnected)
}

func TestLive_RestoresStatus(t *testing.T) {
	status := &memStatus{
		onSave: make(chan struct{}, 1),
		loaded: &model.Status{
			Symbol:   "BTCUSDT",
			Position: model.PositionState{Quantity: -0.02, EntryPrice: 120, EntryTime: week1},
			Capital:  model.CapitalState{InitialCapital: 1000, RealizedPnL: 5, Trades: 2, Wins: 1},
		},
	}
	r, err := NewLive(testConfig(t), LiveOptions{
		History: fakeHistory{candles: priorWeek()},
		Stream:  fakeStream{},
	}, Deps{Status: status})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, -0.02, r.Strategy().Position().Quantity)
	assert.Equal(t, 5.0, r.Strategy().Capital().State().RealizedPnL)
	assert.Equal(t, -0.02, r.Paper().Position())
}

func TestNewLive_RequiresMarketWhenNotPaper(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paper = false
	_, err := NewLive(cfg, LiveOptions{History: fakeHistory{}, Stream: fakeStream{}}, Deps{})
	assert.Error(t, err)
}

type errRecorder struct{ err error }

func (e errRecorder) RecordFill(model.Fill) error { return e.err }

func TestRecorders_TriesAll(t *testing.T) {
	j := &memJournal{}
	boom := errors.New("boom")
	err := Recorders{errRecorder{boom}, j}.RecordFill(model.Fill{Action: model.ActionOpenLong})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, j.fills, 1)
}
