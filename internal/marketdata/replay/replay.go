// Package replay provides the backtest candle feed: historical candles read
// from a CandleSource and delivered to the strategy in time order, at an
// optional speed multiplier.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"breakoutbot/internal/model"
	"breakoutbot/internal/ringbuf"
)

// ErrNoCandles is returned by Load when the source has nothing in range.
var ErrNoCandles = errors.New("replay: no candles in range")

// Config selects what to replay.
type Config struct {
	Symbol      string
	Period      string
	From, To    time.Time // zero = open-ended
	Speed       float64   // 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible
	CandleLimit int       // history window size handed to the handler
}

// Feed replays historical candles. It implements model.CandleFeed.
type Feed struct {
	cfg     Config
	source  model.CandleSource
	handler model.CandleHandler
	history *ringbuf.Window
	candles []model.Candle

	// Hook (optional)
	OnCandle func(c model.Candle)
}

var _ model.CandleFeed = (*Feed)(nil)

// New creates a replay feed.
func New(cfg Config, source model.CandleSource, handler model.CandleHandler) *Feed {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 500
	}
	return &Feed{
		cfg:     cfg,
		source:  source,
		handler: handler,
		history: ringbuf.New(cfg.CandleLimit),
	}
}

// Load reads and sorts the candles to replay.
func (f *Feed) Load(ctx context.Context) error {
	candles, err := f.source.ReadCandles(ctx, f.cfg.Symbol, f.cfg.Period, f.cfg.From, f.cfg.To)
	if err != nil {
		return fmt.Errorf("replay: read candles: %w", err)
	}
	if len(candles) == 0 {
		return ErrNoCandles
	}

	// Sources are usually sorted already; a stable sort keeps duplicates in
	// source order so dedupe below keeps the first.
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	out := candles[:1]
	for _, c := range candles[1:] {
		if c.Time.After(out[len(out)-1].Time) {
			out = append(out, c)
		}
	}
	f.candles = out

	log.Printf("[replay] loaded %d candles %s %s (%s .. %s), speed=%.1fx",
		len(out), f.cfg.Symbol, f.cfg.Period,
		out[0].Time.Format(time.RFC3339), out[len(out)-1].Time.Format(time.RFC3339), f.cfg.Speed)
	return nil
}

// Len returns the number of loaded candles.
func (f *Feed) Len() int { return len(f.candles) }

// Start delivers every loaded candle to the handler, one at a time.
// A handler error aborts the replay and is returned.
func (f *Feed) Start(ctx context.Context) error {
	var prevTS time.Time
	emitted := 0

	for _, c := range f.candles {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between candles
		if f.cfg.Speed > 0 && !prevTS.IsZero() {
			gap := c.Time.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / f.cfg.Speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.Time

		f.history.Push(c)
		if f.OnCandle != nil {
			f.OnCandle(c)
		}
		if err := f.handler(ctx, f.history.Slice(), c); err != nil {
			log.Printf("[replay] aborted at %s after %d candles: %v", c.Time.Format(time.RFC3339), emitted, err)
			return fmt.Errorf("replay: candle %s: %w", c.Time.Format(time.RFC3339), err)
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}
