package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"breakoutbot/internal/model"
)

const (
	DefaultSendInterval = 500 * time.Millisecond
	DefaultIdleInterval = time.Second
	sendTimeout         = 15 * time.Second
)

// QueueConfig configures delivery pacing.
type QueueConfig struct {
	SendInterval time.Duration // minimum gap between two sends
	IdleInterval time.Duration // sleep when the queue is empty
	Disabled     bool          // backtest: Enqueue is a no-op
}

// Queue is an unbounded FIFO of outgoing messages with a single delivery
// loop. Enqueue never blocks the strategy.
type Queue struct {
	mu        sync.Mutex
	pending   []string
	cfg       QueueConfig
	messenger model.Messenger
	limiter   *rate.Limiter

	// Hooks (optional)
	OnDepth func(n int)
	OnSent  func()
	OnError func(err error)
}

// NewQueue creates a queue delivering through messenger.
func NewQueue(cfg QueueConfig, messenger model.Messenger) *Queue {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if messenger == nil {
		if !cfg.Disabled {
			log.Printf("[notify] no messenger configured, messages are logged only")
		}
		messenger = NewLogNotifier()
	}
	return &Queue{
		cfg:       cfg,
		messenger: messenger,
		limiter:   rate.NewLimiter(rate.Every(cfg.SendInterval), 1),
	}
}

// Enqueue appends text for delivery.
func (q *Queue) Enqueue(text string) {
	if q.cfg.Disabled {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, text)
	n := len(q.pending)
	q.mu.Unlock()

	if q.OnDepth != nil {
		q.OnDepth(n)
	}
}

// Len returns the number of undelivered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	text := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	if q.OnDepth != nil {
		defer q.OnDepth(len(q.pending))
	}
	return text, true
}

// Run delivers messages in order until ctx is cancelled. Delivery failures
// are logged and dropped. A message stays queued until its send slot comes
// up, so cancellation leaves it for Drain; a send already started is allowed
// to finish.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if q.Len() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.cfg.IdleInterval):
			}
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return nil
		}
		text, ok := q.pop()
		if !ok {
			continue
		}
		q.deliver(context.WithoutCancel(ctx), text)
	}
}

// Drain delivers whatever is pending without pacing. Used at shutdown.
func (q *Queue) Drain(ctx context.Context) {
	for {
		text, ok := q.pop()
		if !ok {
			return
		}
		q.deliver(ctx, text)
	}
}

func (q *Queue) deliver(ctx context.Context, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := q.messenger.Send(sendCtx, text); err != nil {
		log.Printf("[notify] send failed, dropping message: %v", err)
		if q.OnError != nil {
			q.OnError(err)
		}
		return
	}
	if q.OnSent != nil {
		q.OnSent()
	}
}
