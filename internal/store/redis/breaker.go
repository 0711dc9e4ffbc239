package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the position of a Breaker. The values are exported as the
// circuit breaker gauge.
type BreakerState int

const (
	BreakerClosed   BreakerState = 0 // calls reach Redis
	BreakerOpen     BreakerState = 1 // calls fail fast with ErrCircuitOpen
	BreakerHalfOpen BreakerState = 2 // one trial call decides
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls rejected without reaching Redis.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breaker fails Redis calls fast after repeated errors so a dead server
// never stalls the candle loop. The status store and the fill publisher
// share one Breaker: a trip seen by either path applies to both.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration // open -> half-open
	timeout     time.Duration // per call
	openedAt    time.Time
	probing     bool
	listeners   []func(from, to BreakerState)
	now         func() time.Time
}

// NewBreaker opens after maxFailures consecutive Redis errors and allows a
// single trial call once cooldown has passed.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		timeout:     callTimeout,
		now:         time.Now,
	}
}

// OnStateChange registers fn for every transition. Listeners run in
// registration order without the breaker lock held.
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn under the per-call timeout. op names the call in returned
// errors. A call abandoned because the caller's ctx ended is not counted
// as a Redis failure.
func (b *Breaker) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return fmt.Errorf("redis: %s: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	err := fn(callCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		b.abandon()
		return ctx.Err()
	}
	b.record(err)
	if err != nil {
		return fmt.Errorf("redis: %s: %w", op, err)
	}
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var changed []func()
	defer func() {
		b.mu.Unlock()
		for _, fire := range changed {
			fire()
		}
	}()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		changed = b.set(BreakerHalfOpen)
		b.probing = true
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// abandon returns the trial slot without judging Redis.
func (b *Breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	var changed []func()
	defer func() {
		b.mu.Unlock()
		for _, fire := range changed {
			fire()
		}
	}()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if err != nil {
			b.openedAt = b.now()
			changed = b.set(BreakerOpen)
		} else {
			b.failures = 0
			changed = b.set(BreakerClosed)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.openedAt = b.now()
		changed = b.set(BreakerOpen)
	}
}

// set moves to state to and returns the listener calls to make once the
// lock is released. Caller holds mu.
func (b *Breaker) set(to BreakerState) []func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	calls := make([]func(), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fn := fn
		calls = append(calls, func() { fn(from, to) })
	}
	return calls
}
