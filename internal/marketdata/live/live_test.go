package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakoutbot/internal/exchange/binance"
	"breakoutbot/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candleAt(h int) model.Candle {
	return model.Candle{Time: t0.Add(time.Duration(h) * time.Hour), Open: float64(h), Close: float64(h)}
}

func klineAt(h int, closed bool) binance.Kline {
	c := candleAt(h)
	return binance.Kline{OpenTime: c.Time.UnixMilli(), Open: c.Open, Close: c.Close, Closed: closed}
}

type fakeHistory struct {
	mu      sync.Mutex
	candles []model.Candle
	calls   int
}

func (h *fakeHistory) ClosedCandles(_ context.Context, _, _ string, limit int) ([]model.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	out := h.candles
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fakeStream replays one batch of klines per subscription, then closes.
type fakeStream struct {
	mu      sync.Mutex
	batches [][]binance.Kline
	subs    int
	onEmpty func()
}

func (s *fakeStream) SubscribeKlines(ctx context.Context, _, _ string) (<-chan binance.Kline, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs++
	if len(s.batches) == 0 {
		if s.onEmpty != nil {
			s.onEmpty()
		}
		return nil, nil, errors.New("no more batches")
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]

	ch := make(chan binance.Kline, len(batch))
	for _, k := range batch {
		ch <- k
	}
	close(ch)
	return ch, func() {}, nil
}

type memWriter struct{ got []model.Candle }

func (w *memWriter) WriteCandles(_ context.Context, _, _ string, c []model.Candle) error {
	w.got = append(w.got, c...)
	return nil
}

func TestFeed_LoadBackfillsWithoutDelivering(t *testing.T) {
	hist := &fakeHistory{candles: []model.Candle{candleAt(0), candleAt(1), candleAt(2)}}
	calls := 0
	f := New(Config{Symbol: "BTCUSDT", Period: "1h", CandleLimit: 2}, hist, &fakeStream{}, nil,
		func(context.Context, []model.Candle, model.Candle) error { calls++; return nil })

	require.NoError(t, f.Load(context.Background()))
	assert.Zero(t, calls)
	h := f.History()
	require.Len(t, h, 2)
	assert.True(t, h[1].Time.Equal(candleAt(2).Time))
}

func TestFeed_DeliversOnlyClosedNewerKlines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist := &fakeHistory{candles: []model.Candle{candleAt(0), candleAt(1)}}
	stream := &fakeStream{
		batches: [][]binance.Kline{{
			klineAt(1, true),  // already backfilled
			klineAt(2, false), // forming
			klineAt(2, true),
			klineAt(2, true), // duplicate
			klineAt(3, true),
		}},
		onEmpty: cancel,
	}
	writer := &memWriter{}

	var got []model.Candle
	var lastHistory []model.Candle
	f := New(Config{Symbol: "BTCUSDT", Period: "1h", ReconnectDelay: time.Millisecond}, hist, stream, writer,
		func(_ context.Context, h []model.Candle, c model.Candle) error {
			got = append(got, c)
			lastHistory = h
			return nil
		})
	reconnects := 0
	f.OnReconnect = func() { reconnects++ }

	require.NoError(t, f.Load(ctx))
	require.NoError(t, f.Start(ctx))

	require.Len(t, got, 2)
	assert.True(t, got[0].Time.Equal(candleAt(2).Time))
	assert.True(t, got[1].Time.Equal(candleAt(3).Time))
	require.Len(t, lastHistory, 4)
	assert.True(t, lastHistory[3].Time.Equal(candleAt(3).Time))
	assert.Len(t, writer.got, 4, "2 backfilled + 2 streamed")
	assert.GreaterOrEqual(t, reconnects, 1)
}

func TestFeed_CatchUpAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist := &fakeHistory{candles: []model.Candle{candleAt(0)}}
	stream := &fakeStream{
		batches: [][]binance.Kline{{klineAt(1, true)}, {klineAt(4, true)}},
		onEmpty: cancel,
	}

	var got []float64
	f := New(Config{ReconnectDelay: time.Millisecond}, hist, stream, nil,
		func(_ context.Context, _ []model.Candle, c model.Candle) error {
			got = append(got, c.Open)
			if c.Open == 1 {
				// candles 2 and 3 close while the stream is down
				hist.mu.Lock()
				hist.candles = []model.Candle{candleAt(0), candleAt(1), candleAt(2), candleAt(3)}
				hist.mu.Unlock()
			}
			return nil
		})

	require.NoError(t, f.Load(ctx))
	require.NoError(t, f.Start(ctx))

	assert.Equal(t, []float64{1, 2, 3, 4}, got)
}

func TestFeed_HandlerErrorDoesNotStopStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &fakeStream{
		batches: [][]binance.Kline{{klineAt(1, true), klineAt(2, true)}},
		onEmpty: cancel,
	}
	var errs []error
	calls := 0
	f := New(Config{ReconnectDelay: time.Millisecond}, &fakeHistory{}, stream, nil,
		func(context.Context, []model.Candle, model.Candle) error {
			calls++
			return errors.New("order rejected")
		})
	f.OnError = func(err error) { errs = append(errs, err) }

	require.NoError(t, f.Load(ctx))
	require.NoError(t, f.Start(ctx))

	assert.Equal(t, 2, calls)
	assert.Len(t, errs, 2)
}
