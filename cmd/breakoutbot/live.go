package main

import (
	"database/sql"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"breakoutbot/internal/exchange/binance"
	"breakoutbot/internal/execution"
	"breakoutbot/internal/metrics"
	"breakoutbot/internal/model"
	"breakoutbot/internal/notification"
	"breakoutbot/internal/runner"
	redisstore "breakoutbot/internal/store/redis"
	sqlitestore "breakoutbot/internal/store/sqlite"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade the live kline stream (paper unless paper: false)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m := metrics.NewMetrics()
		health := metrics.NewHealthStatus("live", cfg.Symbol)
		deps := runner.Deps{
			Metrics:   m,
			Health:    health,
			Messenger: buildMessenger(),
		}
		if cfg.MetricsAddr != "" {
			deps.Server = metrics.NewServer(cfg.MetricsAddr, m, health)
		}

		if !cfg.Paper {
			if !cfg.HasCredentials() {
				return binance.ErrNoCredentials
			}
			deps.Market = binance.NewFuturesClient(binance.FuturesConfig{
				APIKey:    cfg.APIKey,
				APISecret: cfg.APISecret,
				Symbol:    cfg.Symbol,
				Quote:     cfg.Quote,
				Testnet:   cfg.Testnet,
			})
		}

		var recorders runner.Recorders
		var opts runner.LiveOptions
		var sqlDB *sql.DB

		if cfg.SQLitePath != "" {
			store, err := sqlitestore.Open(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			sqlDB = store.DB()
			opts.Writer = store
		}
		if cfg.JournalPath != "" {
			journal, err := execution.NewJournal(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()
			recorders = append(recorders, journal)
		}

		var rdb *goredis.Client
		if cfg.RedisAddr != "" {
			client, err := redisstore.Dial(redisstore.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return err
			}
			rdb = client
			cb := redisstore.NewBreaker(5, 10*time.Second)
			cb.OnStateChange(func(from, to redisstore.BreakerState) {
				m.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.BreakerOpen {
					m.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[redis] circuit breaker %s -> %s", from, to)
			})
			status := redisstore.NewStatusStore(client, cb, cfg.RedisPrefix)
			defer status.Close()
			publisher := redisstore.NewFillPublisher(ctx, client, cb, cfg.RedisPrefix)
			publisher.OnBuffer = m.RedisBufferedWrites.Inc
			deps.Status = status
			recorders = append(recorders, publisher)
		}
		if len(recorders) > 0 {
			deps.Journal = recorders
		}

		rest := binance.NewClient(cfg.Testnet)
		if serverMs, err := rest.GetServerTime(ctx); err != nil {
			log.Printf("[live] server time check failed: %v", err)
		} else if skew := time.Since(time.UnixMilli(serverMs)); skew > time.Second || skew < -time.Second {
			log.Printf("[live] WARNING: local clock is %v off exchange time; signed orders may be rejected", skew)
		}
		opts.History = rest
		opts.Stream = binance.NewStreamClient(cfg.Testnet)

		if rdb != nil || sqlDB != nil {
			go health.RunLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)
		}

		r, err := runner.NewLive(cfg, opts, deps)
		if err != nil {
			return err
		}
		if err := r.Run(ctx); err != nil {
			return err
		}
		s := r.Summary()
		log.Printf("[live] stopped: trades=%d realized=%.4f equity=%.4f", s.Trades, s.RealizedPnL, s.Equity)
		return nil
	},
}

// buildMessenger returns the configured channels, or nil to log only.
func buildMessenger() model.Messenger {
	var out notification.Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.WebhookURL, "breakoutbot"))
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
