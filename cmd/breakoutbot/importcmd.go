package main

import (
	"errors"
	"log"

	"github.com/spf13/cobra"

	"breakoutbot/internal/exchange/binance"
	"breakoutbot/internal/marketdata/resample"
	"breakoutbot/internal/store/csvfile"
	sqlitestore "breakoutbot/internal/store/sqlite"
)

var importFlags struct {
	csv      string
	db       string
	resample bool
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a candle CSV into the SQLite candle store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFlags.csv == "" {
			return errors.New("--csv is required")
		}
		candles, err := csvfile.NewSource(importFlags.csv).Load()
		if err != nil {
			return err
		}

		if importFlags.resample {
			candles = resample.Candles(candles, cfg.PeriodDuration())
		}

		store, err := openStore(importFlags.db)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.WriteCandles(cmd.Context(), cfg.Symbol, cfg.Period, candles); err != nil {
			return err
		}
		log.Printf("[import] %d %s %s candles written to %s", len(candles), cfg.Symbol, cfg.Period, store.Path())
		return nil
	},
}

var fetchFlags struct {
	db    string
	limit int
	csv   string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download recent closed klines from Binance into SQLite (and optionally CSV)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := binance.NewClient(cfg.Testnet)
		candles, err := client.ClosedCandles(cmd.Context(), cfg.Symbol, cfg.Period, fetchFlags.limit)
		if err != nil {
			return err
		}

		store, err := openStore(fetchFlags.db)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		last, err := store.LastTime(ctx, cfg.Symbol, cfg.Period)
		if err != nil {
			return err
		}
		if err := store.WriteCandles(ctx, cfg.Symbol, cfg.Period, candles); err != nil {
			return err
		}
		fresh := 0
		for _, c := range candles {
			if c.Time.After(last) {
				fresh++
			}
		}
		log.Printf("[fetch] %d candles fetched, %d new", len(candles), fresh)

		if fetchFlags.csv != "" {
			if err := csvfile.Write(fetchFlags.csv, candles); err != nil {
				return err
			}
			log.Printf("[fetch] wrote %s", fetchFlags.csv)
		}
		return nil
	},
}

func openStore(path string) (*sqlitestore.Store, error) {
	if path == "" {
		path = cfg.SQLitePath
	}
	return sqlitestore.Open(path)
}

func init() {
	importCmd.Flags().StringVar(&importFlags.csv, "csv", "", "CSV file with time,open,high,low,close[,volume]")
	importCmd.Flags().BoolVar(&importFlags.resample, "resample", false, "Aggregate finer CSV candles into the config period before writing")
	importCmd.Flags().StringVar(&importFlags.db, "db", "", "SQLite candle database (default: sqlite_path from config)")

	fetchCmd.Flags().StringVar(&fetchFlags.db, "db", "", "SQLite candle database (default: sqlite_path from config)")
	fetchCmd.Flags().IntVar(&fetchFlags.limit, "limit", 24*7*2, "Number of closed candles to fetch")
	fetchCmd.Flags().StringVar(&fetchFlags.csv, "csv", "", "Also write the candles to this CSV file")
}
