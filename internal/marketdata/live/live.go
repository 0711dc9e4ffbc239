// Package live provides the live candle feed: a REST backfill of recent
// closed candles followed by the Binance kline websocket. Only closed
// klines reach the handler, each exactly once and in time order.
package live

import (
	"context"
	"fmt"
	"log"
	"time"

	"breakoutbot/internal/exchange/binance"
	"breakoutbot/internal/model"
	"breakoutbot/internal/ringbuf"
)

// KlineHistory fetches recent closed candles.
type KlineHistory interface {
	ClosedCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// KlineStream subscribes to the kline websocket.
type KlineStream interface {
	SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan binance.Kline, func(), error)
}

// Config configures the live feed.
type Config struct {
	Symbol         string
	Period         string        // Binance interval, e.g. "1h"
	CandleLimit    int           // backfill size and history window
	ReconnectDelay time.Duration // wait between stream reconnects
}

// Feed is the live model.CandleFeed.
type Feed struct {
	cfg     Config
	rest    KlineHistory
	stream  KlineStream
	handler model.CandleHandler
	writer  model.CandleWriter // optional
	history *ringbuf.Window
	last    time.Time

	// Optional metrics hooks
	OnReconnect func()
	OnCandle    func(c model.Candle)
	OnError     func(err error)
}

var _ model.CandleFeed = (*Feed)(nil)

// New creates a live feed. writer may be nil.
func New(cfg Config, rest KlineHistory, stream KlineStream, writer model.CandleWriter, handler model.CandleHandler) *Feed {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 24 * 7 * 2
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Feed{
		cfg:     cfg,
		rest:    rest,
		stream:  stream,
		handler: handler,
		writer:  writer,
		history: ringbuf.New(cfg.CandleLimit),
	}
}

// Load backfills the history window. Backfilled candles are not delivered
// to the handler.
func (f *Feed) Load(ctx context.Context) error {
	candles, err := f.rest.ClosedCandles(ctx, f.cfg.Symbol, f.cfg.Period, f.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("live: backfill: %w", err)
	}
	for _, c := range candles {
		if c.Time.After(f.last) {
			f.history.Push(c)
			f.last = c.Time
		}
	}
	f.persist(ctx, candles)

	log.Printf("[live] backfilled %d candles %s %s, last=%s",
		f.history.Len(), f.cfg.Symbol, f.cfg.Period, f.last.Format(time.RFC3339))
	return nil
}

// History returns the current window, oldest first.
func (f *Feed) History() []model.Candle { return f.history.Slice() }

// Start streams klines until ctx is cancelled, reconnecting after
// f.cfg.ReconnectDelay whenever the stream drops.
func (f *Feed) Start(ctx context.Context) error {
	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !first {
			if f.OnReconnect != nil {
				f.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.cfg.ReconnectDelay):
			}
			f.catchUp(ctx)
		}
		first = false

		ch, stop, err := f.stream.SubscribeKlines(ctx, f.cfg.Symbol, f.cfg.Period)
		if err != nil {
			log.Printf("[live] subscribe failed: %v (retrying in %v)", err, f.cfg.ReconnectDelay)
			continue
		}
		log.Printf("[live] streaming %s@kline_%s", f.cfg.Symbol, f.cfg.Period)

		for k := range ch {
			if !k.Closed {
				continue
			}
			f.deliver(ctx, k.Candle())
		}
		stop()

		if ctx.Err() == nil {
			log.Printf("[live] stream closed, reconnecting in %v", f.cfg.ReconnectDelay)
		}
	}
}

// catchUp delivers closed candles missed while the stream was down.
func (f *Feed) catchUp(ctx context.Context) {
	candles, err := f.rest.ClosedCandles(ctx, f.cfg.Symbol, f.cfg.Period, f.cfg.CandleLimit)
	if err != nil {
		log.Printf("[live] catch-up failed: %v", err)
		return
	}
	n := 0
	for _, c := range candles {
		if c.Time.After(f.last) {
			f.deliver(ctx, c)
			n++
		}
	}
	if n > 0 {
		log.Printf("[live] caught up %d candles after reconnect", n)
	}
}

// deliver pushes c to the handler unless it is not newer than the last
// delivered candle.
func (f *Feed) deliver(ctx context.Context, c model.Candle) {
	if !c.Time.After(f.last) {
		return
	}
	f.last = c.Time
	f.history.Push(c)
	f.persist(ctx, []model.Candle{c})

	if f.OnCandle != nil {
		f.OnCandle(c)
	}
	if err := f.handler(ctx, f.history.Slice(), c); err != nil {
		log.Printf("[live] handler error at %s: %v", c.Time.Format(time.RFC3339), err)
		if f.OnError != nil {
			f.OnError(err)
		}
	}
}

func (f *Feed) persist(ctx context.Context, candles []model.Candle) {
	if f.writer == nil || len(candles) == 0 {
		return
	}
	if err := f.writer.WriteCandles(ctx, f.cfg.Symbol, f.cfg.Period, candles); err != nil {
		log.Printf("[live] persist candles: %v", err)
	}
}
