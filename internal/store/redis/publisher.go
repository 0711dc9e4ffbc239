package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"breakoutbot/internal/model"
)

// FillPublisher publishes fills on <prefix>:fills:<symbol> and keeps the
// most recent ones in a capped list under the same key.
//
// While the breaker is open, fills are buffered locally and flushed in order
// when it closes again; a failed flush keeps the rest queued. It implements model.TradeRecorder so it can sit next to the
// SQLite journal.
type FillPublisher struct {
	client *goredis.Client
	cb     *Breaker
	ctx    context.Context
	prefix string

	mu     sync.Mutex
	buffer []model.Fill
	maxBuf int
	keep   int64

	// Callbacks (optional)
	OnBuffer func()          // a fill was buffered
	OnFlush  func(count int) // buffered fills were flushed
}

var _ model.TradeRecorder = (*FillPublisher)(nil)

// NewFillPublisher creates a publisher sharing cb with the status store.
// A nil cb gets a breaker of its own.
func NewFillPublisher(ctx context.Context, client *goredis.Client, cb *Breaker, prefix string) *FillPublisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if cb == nil {
		cb = NewBreaker(defaultMaxFailures, defaultCooldown)
	}
	fp := &FillPublisher{
		client: client,
		cb:     cb,
		ctx:    ctx,
		prefix: prefix,
		buffer: make([]model.Fill, 0, 16),
		maxBuf: 1000,
		keep:   defaultMaxFills,
	}

	cb.OnStateChange(func(_, to BreakerState) {
		if to == BreakerClosed {
			go fp.flush()
		}
	})
	return fp
}

func (fp *FillPublisher) key(symbol string) string {
	return fmt.Sprintf("%s:fills:%s", fp.prefix, symbol)
}

// RecordFill publishes f. When the breaker is open the fill is buffered and
// nil is returned.
func (fp *FillPublisher) RecordFill(f model.Fill) error {
	err := fp.send(f)
	if errors.Is(err, ErrCircuitOpen) {
		fp.bufferFill(f)
		return nil
	}
	return err
}

func (fp *FillPublisher) send(f model.Fill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("redis: marshal fill: %w", err)
	}
	key := fp.key(f.Symbol)
	return fp.cb.Call(fp.ctx, "publish fill "+f.OrderID, func(ctx context.Context) error {
		pipe := fp.client.TxPipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, fp.keep-1)
		pipe.Publish(ctx, key, data)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// RecentFills returns up to n fills for symbol, newest first.
func (fp *FillPublisher) RecentFills(ctx context.Context, symbol string, n int64) ([]model.Fill, error) {
	raw, err := fp.client.LRange(ctx, fp.key(symbol), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent fills: %w", err)
	}
	out := make([]model.Fill, 0, len(raw))
	for _, r := range raw {
		var f model.Fill
		if json.Unmarshal([]byte(r), &f) == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (fp *FillPublisher) bufferFill(f model.Fill) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if len(fp.buffer) >= fp.maxBuf {
		// Buffer full: drop oldest
		fp.buffer = fp.buffer[1:]
	}
	fp.buffer = append(fp.buffer, f)

	if fp.OnBuffer != nil {
		fp.OnBuffer()
	}
}

// flush replays buffered fills oldest first. The first failure puts that
// fill and everything after it back at the head of the buffer.
func (fp *FillPublisher) flush() {
	fp.mu.Lock()
	if len(fp.buffer) == 0 {
		fp.mu.Unlock()
		return
	}
	toFlush := fp.buffer
	fp.buffer = make([]model.Fill, 0, 16)
	fp.mu.Unlock()

	flushed := 0
	for i, f := range toFlush {
		if err := fp.send(f); err != nil {
			log.Printf("[redis] flush stopped at fill %s: %v", f.OrderID, err)
			fp.requeue(toFlush[i:])
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered fills", flushed)
	}
	if fp.OnFlush != nil {
		fp.OnFlush(flushed)
	}
}

func (fp *FillPublisher) requeue(fills []model.Fill) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	merged := make([]model.Fill, 0, len(fills)+len(fp.buffer))
	merged = append(merged, fills...)
	merged = append(merged, fp.buffer...)
	if over := len(merged) - fp.maxBuf; over > 0 {
		merged = merged[over:]
	}
	fp.buffer = merged
}

// Pending returns a copy of the buffered fills, oldest first.
func (fp *FillPublisher) Pending() []model.Fill {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]model.Fill(nil), fp.buffer...)
}

// PendingCount returns the number of buffered fills.
func (fp *FillPublisher) PendingCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.buffer)
}
