package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"breakoutbot/internal/execution"
	"breakoutbot/internal/marketdata/resample"
	"breakoutbot/internal/metrics"
	"breakoutbot/internal/model"
	"breakoutbot/internal/runner"
	"breakoutbot/internal/store/csvfile"
	sqlitestore "breakoutbot/internal/store/sqlite"
)

var backtestFlags struct {
	csv          string
	db           string
	from         string
	to           string
	speed        float64
	journal      string
	sourcePeriod string
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical candles through the strategy with paper fills",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseBound(backtestFlags.from)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := parseBound(backtestFlags.to)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		var source model.CandleSource
		if backtestFlags.csv != "" {
			source = csvfile.NewSource(backtestFlags.csv)
		} else {
			dbPath := backtestFlags.db
			if dbPath == "" {
				dbPath = cfg.SQLitePath
			}
			store, err := sqlitestore.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			source = store
		}

		if backtestFlags.sourcePeriod != "" {
			source = resample.Source{
				Inner:       source,
				InnerPeriod: backtestFlags.sourcePeriod,
				Period:      cfg.PeriodDuration(),
			}
		}

		deps := runner.Deps{Metrics: metrics.NewMetrics()}
		if backtestFlags.journal != "" {
			journal, err := execution.NewJournal(backtestFlags.journal)
			if err != nil {
				return err
			}
			defer journal.Close()
			deps.Journal = journal
		}

		r, err := runner.NewBacktest(cfg, runner.BacktestOptions{
			Source: source,
			From:   from,
			To:     to,
			Speed:  backtestFlags.speed,
		}, deps)
		if err != nil {
			return err
		}
		if err := r.Run(cmd.Context()); err != nil {
			return err
		}

		r.PrintSummary(os.Stdout)
		log.Printf("[backtest] %d paper fills", len(r.Paper().GetFills()))
		return nil
	},
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&backtestFlags.csv, "csv", "", "CSV file with time,open,high,low,close[,volume] (default: read SQLite)")
	f.StringVar(&backtestFlags.db, "db", "", "SQLite candle database (default: sqlite_path from config)")
	f.StringVar(&backtestFlags.from, "from", "", "First candle time, e.g. 2018-01-01 (default: all)")
	f.StringVar(&backtestFlags.to, "to", "", "Last candle time, e.g. 2018-12-31 (default: all)")
	f.Float64Var(&backtestFlags.speed, "speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	f.StringVar(&backtestFlags.sourcePeriod, "source-period", "", "Period of the stored candles when finer than the config period, e.g. 1h")
	f.StringVar(&backtestFlags.journal, "journal", "", "Write fills to this SQLite journal (optional)")
}
