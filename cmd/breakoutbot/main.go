// Command breakoutbot runs the weekly breakout strategy against historical
// candles (backtest) or the Binance USDⓈ-M futures kline stream (live).
//
// Usage:
//
//	breakoutbot backtest --config bot.yaml --csv data/BTCUSDT_1h.csv --from 2018-01-01 --to 2018-12-31
//	breakoutbot live --config bot.yaml
//	breakoutbot import --csv data/BTCUSDT_1h.csv
//	breakoutbot fetch --limit 1500
//	breakoutbot status
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"breakoutbot/config"
	"breakoutbot/internal/logger"
	"breakoutbot/internal/store/csvfile"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "breakoutbot",
	Short:         "Weekly breakout trading bot for Binance futures",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger.Init("breakoutbot", logger.ParseLevel(cfg.LogLevel))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (optional)")
	rootCmd.AddCommand(backtestCmd, liveCmd, importCmd, fetchCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// parseBound parses an optional --from/--to value. Empty means open.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return csvfile.ParseTime(s)
}
