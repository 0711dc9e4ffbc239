package resample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakoutbot/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// hourly returns n 1h candles with close = open+1 and volume 1.
func hourly(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := float64(100 + i)
		out[i] = model.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Open:   p,
			High:   p + 2,
			Low:    p - 2,
			Close:  p + 1,
			Volume: 1,
		}
	}
	return out
}

func TestCandles_Hourly_To_4h(t *testing.T) {
	out := Candles(hourly(8), 4*time.Hour)

	require.Len(t, out, 2)
	first := out[0]
	assert.Equal(t, base, first.Time)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 98.0, first.Low)
	assert.Equal(t, 104.0, first.Close)
	assert.Equal(t, 4.0, first.Volume)
	assert.Equal(t, base.Add(4*time.Hour), out[1].Time)
}

func TestCandles_DropsFormingTail(t *testing.T) {
	out := Candles(hourly(10), 4*time.Hour)
	assert.Len(t, out, 2, "the 08:00 bucket has only two of four hours")
}

func TestCandles_Empty(t *testing.T) {
	assert.Nil(t, Candles(nil, time.Hour))
}

func TestBuilder_StaleCandleDropped(t *testing.T) {
	b := New(4 * time.Hour)
	var stale int
	b.OnStale = func(model.Candle) { stale++ }

	in := hourly(6)
	for _, c := range in[:5] {
		b.Push(c)
	}
	_, ok := b.Push(in[0]) // back in the first bucket
	assert.False(t, ok)
	assert.Equal(t, 1, stale)

	fc, ok := b.Forming()
	require.True(t, ok)
	assert.Equal(t, base.Add(4*time.Hour), fc.Time)
}

type sliceSource []model.Candle

func (s sliceSource) ReadCandles(context.Context, string, string, time.Time, time.Time) ([]model.Candle, error) {
	return s, nil
}

func TestSource(t *testing.T) {
	src := Source{Inner: sliceSource(hourly(12)), InnerPeriod: "1h", Period: 4 * time.Hour}
	out, err := src.ReadCandles(context.Background(), "BTCUSDT", "4h", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}
