// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	reg *prometheus.Registry

	CandlesTotal    prometheus.Counter
	EvaluateDur     prometheus.Histogram
	CandleLag       prometheus.Gauge
	FeedReconnects  prometheus.Counter
	FeedErrors      prometheus.Counter
	IndicatorReady  prometheus.Gauge
	LongBreak       prometheus.Gauge
	ShortBreak      prometheus.Gauge
	TradesTotal     *prometheus.CounterVec   // labels: action
	OrderDur        *prometheus.HistogramVec // labels: action
	OrderErrors     *prometheus.CounterVec   // labels: action
	RealizedPnL     prometheus.Gauge
	PositionQty     prometheus.Gauge
	QueueDepth      prometheus.Gauge
	MessagesSent    prometheus.Counter
	MessagesFailed  prometheus.Counter
	StatusSaveFails prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates the metrics on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_candles_total",
			Help: "Closed candles evaluated by the strategy",
		}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "breakoutbot_evaluate_duration_seconds",
			Help:    "Strategy evaluation latency per candle, orders included",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_candle_lag_seconds",
			Help: "Wall-clock delay between candle open time and evaluation",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_feed_reconnects_total",
			Help: "Kline websocket reconnection attempts",
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_feed_handler_errors_total",
			Help: "Candles whose evaluation returned an error",
		}),
		IndicatorReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_indicator_ready",
			Help: "1 when weekly levels are known",
		}),
		LongBreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_long_break",
			Help: "Current long breakout level",
		}),
		ShortBreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_short_break",
			Help: "Current short breakout level",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breakoutbot_trades_total",
			Help: "Confirmed fills by action",
		}, []string{"action"}),
		OrderDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breakoutbot_order_duration_seconds",
			Help:    "Market API call latency by action",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		OrderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breakoutbot_order_errors_total",
			Help: "Failed market API calls by action",
		}, []string{"action"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_realized_pnl",
			Help: "Realized P&L net of commission, quote asset",
		}),
		PositionQty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_position_quantity",
			Help: "Signed position quantity (positive long, negative short)",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_notify_queue_depth",
			Help: "Messages waiting in the notification queue",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_notify_sent_total",
			Help: "Messages delivered",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_notify_failed_total",
			Help: "Messages dropped after a failed send",
		}),
		StatusSaveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_status_save_failures_total",
			Help: "Failed status saves",
		}),

		// Circuit breaker
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakoutbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutbot_redis_buffered_writes_total",
			Help: "Fills buffered locally during Redis circuit breaker open state",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CandlesTotal,
		m.EvaluateDur,
		m.CandleLag,
		m.FeedReconnects,
		m.FeedErrors,
		m.IndicatorReady,
		m.LongBreak,
		m.ShortBreak,
		m.TradesTotal,
		m.OrderDur,
		m.OrderErrors,
		m.RealizedPnL,
		m.PositionQty,
		m.QueueDepth,
		m.MessagesSent,
		m.MessagesFailed,
		m.StatusSaveFails,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
