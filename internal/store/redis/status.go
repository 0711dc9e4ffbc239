// Package redis persists the bot status (position + capital) and publishes
// fills for external consumers. Every call goes through a shared Breaker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"breakoutbot/internal/model"
)

const (
	defaultPrefix   = "breakoutbot"
	defaultMaxFills = 500
	callTimeout     = 3 * time.Second

	defaultMaxFailures = 5
	defaultCooldown    = 10 * time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace; default "breakoutbot"
}

// Dial connects to Redis and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// StatusStore keeps one JSON status per symbol under <prefix>:status:<symbol>.
type StatusStore struct {
	client *goredis.Client
	cb     *Breaker
	prefix string
}

var _ model.StatusStore = (*StatusStore)(nil)

// NewStatusStore creates a store on an existing client. A nil cb gets a
// breaker of its own.
func NewStatusStore(client *goredis.Client, cb *Breaker, prefix string) *StatusStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if cb == nil {
		cb = NewBreaker(defaultMaxFailures, defaultCooldown)
	}
	return &StatusStore{client: client, cb: cb, prefix: prefix}
}

// Client returns the underlying Redis client for health checks.
func (s *StatusStore) Client() *goredis.Client { return s.client }

func (s *StatusStore) statusKey(symbol string) string {
	return fmt.Sprintf("%s:status:%s", s.prefix, symbol)
}

// SaveStatus writes the status as JSON with no expiry.
func (s *StatusStore) SaveStatus(ctx context.Context, st model.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: marshal status: %w", err)
	}
	return s.cb.Call(ctx, "save status "+st.Symbol, func(ctx context.Context) error {
		return s.client.Set(ctx, s.statusKey(st.Symbol), data, 0).Err()
	})
}

// LoadStatus reads the status for symbol. A missing key returns nil, nil.
func (s *StatusStore) LoadStatus(ctx context.Context, symbol string) (*model.Status, error) {
	var data []byte
	err := s.cb.Call(ctx, "load status "+symbol, func(ctx context.Context) error {
		b, err := s.client.Get(ctx, s.statusKey(symbol)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil || data == nil {
		return nil, err
	}

	var st model.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("redis: unmarshal status %s: %w", symbol, err)
	}
	return &st, nil
}

// Ping reports whether Redis answers.
func (s *StatusStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *StatusStore) Close() error {
	return s.client.Close()
}
