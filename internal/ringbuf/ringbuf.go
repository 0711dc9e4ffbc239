// Package ringbuf provides the bounded candle history kept by the feeds.
// The newest candle overwrites the oldest once the window is full, and
// Slice always returns candles in ascending time order.
package ringbuf

import (
	"breakoutbot/internal/model"
)

// Window is a fixed-size ring of the most recent candles.
// Storage is rounded up to a power of two for bitwise modulo; the logical
// limit stays exactly what the caller asked for.
//
// Not safe for concurrent use: the feed goroutine owns it.
type Window struct {
	buf   []model.Candle
	mask  uint64
	limit int
	head  uint64 // total pushes

	evicted uint64
}

// New creates a window holding at most limit candles. Minimum limit is 1.
func New(limit int) *Window {
	if limit < 1 {
		limit = 1
	}
	size := nextPow2(limit)
	return &Window{
		buf:   make([]model.Candle, size),
		mask:  uint64(size - 1),
		limit: limit,
	}
}

// Push appends a candle, evicting the oldest when the window is full.
func (w *Window) Push(c model.Candle) {
	if w.Len() == w.limit {
		w.evicted++
	}
	w.buf[w.head&w.mask] = c
	w.head++
}

// Slice returns a copy of the retained candles, oldest first.
func (w *Window) Slice() []model.Candle {
	n := w.Len()
	out := make([]model.Candle, n)
	start := w.head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+uint64(i))&w.mask]
	}
	return out
}

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) {
	if w.head == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.head-1)&w.mask], true
}

// Len returns the number of retained candles.
func (w *Window) Len() int {
	if w.head < uint64(w.limit) {
		return int(w.head)
	}
	return w.limit
}

// Cap returns the window limit.
func (w *Window) Cap() int {
	return w.limit
}

// Evicted returns how many candles were pushed out of the window.
func (w *Window) Evicted() uint64 {
	return w.evicted
}

// Reset drops all candles.
func (w *Window) Reset() {
	w.head = 0
	w.evicted = 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
