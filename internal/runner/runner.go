// Package runner wires a candle feed to the weekly breakout strategy and
// manages startup and shutdown of the notification loop and the optional
// metrics server.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"breakoutbot/config"
	"breakoutbot/internal/execution"
	"breakoutbot/internal/marketdata/live"
	"breakoutbot/internal/marketdata/replay"
	"breakoutbot/internal/markethours"
	"breakoutbot/internal/metrics"
	"breakoutbot/internal/model"
	"breakoutbot/internal/notification"
	"breakoutbot/internal/portfolio"
	"breakoutbot/internal/strategy"
)

// Mode selects the candle source.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Deps are the collaborators built by the caller. Everything is optional
// except where noted.
type Deps struct {
	Market    model.MarketAPI     // nil = paper executor
	Messenger model.Messenger     // nil = log only
	Status    model.StatusStore   // live only
	Journal   model.TradeRecorder // may be a Recorders fan-out
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Server    *metrics.Server // run alongside the feed in live mode
}

// BacktestOptions select the historical range to replay.
type BacktestOptions struct {
	Source   model.CandleSource // required
	From, To time.Time
	Speed    float64
}

// LiveOptions carry the exchange market data clients.
type LiveOptions struct {
	History live.KlineHistory // required
	Stream  live.KlineStream  // required
	Writer  model.CandleWriter
}

// Runner owns one strategy and one feed.
type Runner struct {
	cfg      *config.Config
	mode     Mode
	deps     Deps
	strategy *strategy.WeekBreakout
	feed     model.CandleFeed
	queue    *notification.Queue
	paper    *execution.PaperExecutor
	candles  int
}

// NewBacktest builds a runner replaying opts.Source with paper fills.
func NewBacktest(cfg *config.Config, opts BacktestOptions, deps Deps) (*Runner, error) {
	if opts.Source == nil {
		return nil, errors.New("runner: backtest source is required")
	}
	deps.Market = nil // backtests never reach the exchange
	deps.Status = nil
	r, err := newRunner(cfg, ModeBacktest, deps)
	if err != nil {
		return nil, err
	}

	feed := replay.New(replay.Config{
		Symbol:      cfg.Symbol,
		Period:      cfg.Period,
		From:        opts.From,
		To:          opts.To,
		Speed:       opts.Speed,
		CandleLimit: cfg.CandleLimit,
	}, opts.Source, r.handle)
	feed.OnCandle = r.onFeedCandle
	r.feed = feed
	return r, nil
}

// NewLive builds a runner on the exchange kline stream. Orders go to
// deps.Market unless cfg.Paper is set.
func NewLive(cfg *config.Config, opts LiveOptions, deps Deps) (*Runner, error) {
	if opts.History == nil || opts.Stream == nil {
		return nil, errors.New("runner: live feed clients are required")
	}
	if cfg.Paper {
		deps.Market = nil
	} else if deps.Market == nil {
		return nil, errors.New("runner: market api is required when paper is off")
	}
	r, err := newRunner(cfg, ModeLive, deps)
	if err != nil {
		return nil, err
	}

	feed := live.New(live.Config{
		Symbol:         cfg.Symbol,
		Period:         cfg.Period,
		CandleLimit:    cfg.CandleLimit,
		ReconnectDelay: cfg.ReconnectDelay,
	}, opts.History, opts.Stream, opts.Writer, r.handle)
	feed.OnCandle = r.onFeedCandle
	feed.OnReconnect = func() {
		if deps.Health != nil {
			deps.Health.SetFeedConnected(false)
		}
		if deps.Metrics != nil {
			deps.Metrics.FeedReconnects.Inc()
		}
	}
	feed.OnError = func(err error) {
		if deps.Metrics != nil {
			deps.Metrics.FeedErrors.Inc()
		}
	}
	r.feed = feed
	return r, nil
}

func newRunner(cfg *config.Config, mode Mode, deps Deps) (*Runner, error) {
	r := &Runner{cfg: cfg, mode: mode, deps: deps}
	m := deps.Metrics

	market := deps.Market
	if market == nil {
		r.paper = execution.NewPaperExecutor(cfg.InitCapital)
		market = r.paper
	}
	exec := execution.NewExecutor(market)
	if m != nil {
		exec.OnOrder = func(res execution.OrderResult) {
			m.OrderDur.WithLabelValues(string(res.Action)).Observe(res.Took.Seconds())
			if res.Err != nil {
				m.OrderErrors.WithLabelValues(string(res.Action)).Inc()
			}
		}
	}

	r.queue = notification.NewQueue(notification.QueueConfig{
		SendInterval: cfg.SendInterval,
		IdleInterval: cfg.IdleInterval,
		Disabled:     mode == ModeBacktest,
	}, deps.Messenger)
	if m != nil {
		r.queue.OnDepth = func(n int) { m.QueueDepth.Set(float64(n)) }
		r.queue.OnSent = m.MessagesSent.Inc
		r.queue.OnError = func(error) { m.MessagesFailed.Inc() }
	}

	s, err := strategy.NewWeekBreakout(cfg.Strategy(), strategy.Deps{
		Market:     exec,
		Notify:     r.queue.Enqueue,
		Journal:    deps.Journal,
		Location:   cfg.Location(),
		Backtest:   mode == ModeBacktest,
		OnEvaluate: r.onEvaluate,
		OnFill:     r.onFill,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r.strategy = s
	return r, nil
}

// Strategy returns the strategy driven by this runner.
func (r *Runner) Strategy() *strategy.WeekBreakout { return r.strategy }

// Paper returns the paper executor, or nil when orders go to the exchange.
func (r *Runner) Paper() *execution.PaperExecutor { return r.paper }

// Summary reports capital at the last evaluated close.
func (r *Runner) Summary() portfolio.Summary { return r.strategy.Summary() }

// Candles returns the number of candles evaluated.
func (r *Runner) Candles() int { return r.candles }

// Run restores state, then runs the feed (and in live mode the notification
// loop and metrics server) until the feed ends or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.banner(ctx)

	if r.mode == ModeLive && r.deps.Status != nil {
		st, err := r.deps.Status.LoadStatus(ctx, r.cfg.Symbol)
		if err != nil {
			slog.WarnContext(ctx, "status load failed, starting flat", slog.String("error", err.Error()))
		} else if st != nil {
			r.strategy.Restore(*st)
			if r.paper != nil {
				r.paper.Seed(st.Position.Quantity, st.Position.EntryPrice)
			}
			slog.InfoContext(ctx, "status restored",
				slog.Float64("position", st.Position.Quantity),
				slog.Float64("entry_price", st.Position.EntryPrice),
				slog.Float64("realized_pnl", st.Capital.RealizedPnL),
			)
		}
	}
	if r.deps.Health != nil {
		r.deps.Health.SetStatus(r.strategy.Status())
	}

	if err := r.strategy.Ready(ctx); err != nil {
		return err
	}
	if err := r.feed.Load(ctx); err != nil {
		return fmt.Errorf("runner: load feed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	feedCtx, stopLoops := context.WithCancel(gctx)
	defer stopLoops()

	if r.mode == ModeLive {
		g.Go(func() error { return r.queue.Run(feedCtx) })
		if r.deps.Server != nil {
			g.Go(func() error { return r.deps.Server.Run(feedCtx) })
		}
		if r.deps.Health != nil {
			r.deps.Health.SetFeedConnected(true)
		}
	}
	g.Go(func() error {
		defer stopLoops()
		return r.feed.Start(gctx)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.queue.Drain(drainCtx)

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("runner stopped", slog.Int("candles", r.candles), slog.Float64("position", r.strategy.Position().Quantity))
	return err
}

// handle is the candle callback handed to the feed.
func (r *Runner) handle(ctx context.Context, history []model.Candle, c model.Candle) error {
	if r.paper != nil {
		r.paper.Mark(c.Close, c.Time)
	}
	r.candles++
	return strategy.Handler(r.strategy)(ctx, history, c)
}

func (r *Runner) onFeedCandle(c model.Candle) {
	if r.deps.Health != nil {
		r.deps.Health.SetLastCandleTime(c.Time)
		if r.mode == ModeLive {
			r.deps.Health.SetFeedConnected(true)
		}
	}
}

func (r *Runner) onEvaluate(c model.Candle, st model.IndicatorState, pos model.PositionState, took time.Duration) {
	m := r.deps.Metrics
	if m == nil {
		return
	}
	m.CandlesTotal.Inc()
	m.EvaluateDur.Observe(took.Seconds())
	m.PositionQty.Set(pos.Quantity)
	if st.Ready {
		m.IndicatorReady.Set(1)
		m.LongBreak.Set(st.LongBreak)
		m.ShortBreak.Set(st.ShortBreak)
	} else {
		m.IndicatorReady.Set(0)
	}
	if r.mode == ModeLive {
		closedAt := c.Time.Add(r.cfg.PeriodDuration())
		m.CandleLag.Set(time.Since(closedAt).Seconds())
	}
}

func (r *Runner) onFill(f model.Fill, st model.Status) {
	if m := r.deps.Metrics; m != nil {
		m.TradesTotal.WithLabelValues(string(f.Action)).Inc()
		m.RealizedPnL.Set(st.Capital.RealizedPnL)
		m.PositionQty.Set(st.Position.Quantity)
	}
	if r.deps.Health != nil {
		r.deps.Health.SetStatus(st)
	}
	if r.mode != ModeLive || r.deps.Status == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.deps.Status.SaveStatus(ctx, st); err != nil {
		slog.Error("status save failed", slog.String("error", err.Error()))
		if r.deps.Metrics != nil {
			r.deps.Metrics.StatusSaveFails.Inc()
		}
	}
}

func (r *Runner) banner(ctx context.Context) {
	loc := r.cfg.Location()
	sc := r.cfg.Strategy()
	week := markethours.NewWeek(sc.WeekStart, sc.HourStart, loc)
	slog.InfoContext(ctx, "breakoutbot starting",
		slog.String("mode", string(r.mode)),
		slog.String("symbol", r.cfg.Symbol),
		slog.String("candle_period", r.cfg.Period),
		slog.Int("candle_limit", r.cfg.CandleLimit),
		slog.String("timezone", loc.String()),
		slog.String("local_time", time.Now().In(loc).Format(time.RFC3339)),
		slog.String("week", week.StatusString(time.Now().In(loc))),
		slog.Bool("paper", r.paper != nil),
	)
	r.queue.Enqueue(fmt.Sprintf("bot started: %s %s (%s)", r.cfg.Symbol, r.cfg.Period, r.mode))
}

// PrintSummary writes the end-of-run report.
func (r *Runner) PrintSummary(w io.Writer) {
	s := r.Summary()
	pos := r.strategy.Position()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Symbol:            %-16s ║\n", r.cfg.Symbol)
	fmt.Fprintf(w, "║  Candles evaluated: %-16d ║\n", r.candles)
	fmt.Fprintf(w, "║  Round trips:       %-16d ║\n", s.Trades)
	fmt.Fprintf(w, "║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", s.WinRate))
	fmt.Fprintf(w, "║  Realized PnL:      %-16.4f ║\n", s.RealizedPnL)
	fmt.Fprintf(w, "║  Unrealized PnL:    %-16.4f ║\n", s.UnrealizedPnL)
	fmt.Fprintf(w, "║  Commission:        %-16.4f ║\n", s.Commission)
	fmt.Fprintf(w, "║  Equity:            %-16.4f ║\n", s.Equity)
	fmt.Fprintf(w, "║  Open position:     %-16v ║\n", pos.Quantity)
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
}

// Recorders fans a fill out to several recorders. Every recorder is tried;
// the errors are joined.
type Recorders []model.TradeRecorder

func (rs Recorders) RecordFill(f model.Fill) error {
	var errs []error
	for _, rec := range rs {
		if err := rec.RecordFill(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
