// Package resample aggregates candles into a coarser period, e.g. hourly
// CSV history into 4h candles. Buckets are aligned to the Unix epoch in
// UTC, the same way Binance aligns kline intervals.
package resample

import (
	"context"
	"fmt"
	"log"
	"time"

	"breakoutbot/internal/model"
)

// Builder merges candles into one forming bucket at a time. When a candle
// arrives for a later bucket, the previous one is finalized.
// Not goroutine-safe: designed for a single consumer.
type Builder struct {
	period  int64 // seconds
	bucket  int64
	forming model.Candle
	started bool

	// Hooks (optional)
	OnCandle func(c model.Candle) // a bucket was finalized
	OnStale  func(c model.Candle) // an input candle older than the forming bucket was dropped
}

// New creates a builder for period. period must be a whole number of seconds.
func New(period time.Duration) *Builder {
	return &Builder{period: int64(period / time.Second)}
}

// Push merges c and returns the finalized previous bucket when c starts a
// new one.
func (b *Builder) Push(c model.Candle) (model.Candle, bool) {
	ts := c.Time.Unix()
	bucket := ts - ts%b.period

	if b.started && bucket < b.bucket {
		if b.OnStale != nil {
			b.OnStale(c)
		}
		return model.Candle{}, false
	}

	var done model.Candle
	finalized := false
	if b.started && bucket > b.bucket {
		done, finalized = b.forming, true
		if b.OnCandle != nil {
			b.OnCandle(done)
		}
		b.started = false
	}

	if !b.started {
		b.bucket = bucket
		b.started = true
		b.forming = model.Candle{
			Time:   time.Unix(bucket, 0).UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
		return done, finalized
	}

	// Same bucket: merge OHLCV.
	fc := &b.forming
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	return done, finalized
}

// Forming returns the in-progress bucket.
func (b *Builder) Forming() (model.Candle, bool) {
	return b.forming, b.started
}

// BucketEnd returns the exclusive end of the forming bucket.
func (b *Builder) BucketEnd() time.Time {
	return time.Unix(b.bucket+b.period, 0).UTC()
}

// Candles resamples an ascending slice. The trailing bucket is kept only
// when the last input candle closes it, judged by the spacing of the last
// two input candles; otherwise it is still forming and dropped.
func Candles(in []model.Candle, period time.Duration) []model.Candle {
	if len(in) == 0 {
		return nil
	}
	b := New(period)
	out := make([]model.Candle, 0, len(in)/2+1)
	for _, c := range in {
		if done, ok := b.Push(c); ok {
			out = append(out, done)
		}
	}

	last := in[len(in)-1]
	step := period
	if len(in) > 1 {
		step = last.Time.Sub(in[len(in)-2].Time)
	}
	if fc, ok := b.Forming(); ok && !last.Time.Add(step).Before(b.BucketEnd()) {
		out = append(out, fc)
	}
	return out
}

// Source reads Inner at InnerPeriod and returns candles resampled to Period.
type Source struct {
	Inner       model.CandleSource
	InnerPeriod string
	Period      time.Duration
}

var _ model.CandleSource = Source{}

func (s Source) ReadCandles(ctx context.Context, symbol, _ string, from, to time.Time) ([]model.Candle, error) {
	in, err := s.Inner.ReadCandles(ctx, symbol, s.InnerPeriod, from, to)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := Candles(in, s.Period)
	log.Printf("[resample] %d %s candles -> %d x %v", len(in), s.InnerPeriod, len(out), s.Period)
	return out, nil
}
