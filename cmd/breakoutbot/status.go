package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"breakoutbot/internal/execution"
	redisstore "breakoutbot/internal/store/redis"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the saved bot status and the most recent fills",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if cfg.RedisAddr != "" {
			client, err := redisstore.Dial(redisstore.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return err
			}
			store := redisstore.NewStatusStore(client, nil, cfg.RedisPrefix)
			defer store.Close()

			st, err := store.LoadStatus(ctx, cfg.Symbol)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Printf("no saved status for %s\n", cfg.Symbol)
			} else if err := enc.Encode(st); err != nil {
				return err
			}

			publisher := redisstore.NewFillPublisher(ctx, store.Client(), nil, cfg.RedisPrefix)
			fills, err := publisher.RecentFills(ctx, cfg.Symbol, int64(statusLimit))
			if err != nil {
				return err
			}
			fmt.Printf("recent fills (%d):\n", len(fills))
			if err := enc.Encode(fills); err != nil {
				return err
			}
		}

		if cfg.JournalPath != "" {
			if _, err := os.Stat(cfg.JournalPath); err != nil {
				return nil
			}
			journal, err := execution.NewJournal(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()
			trades, err := journal.GetTrades(statusLimit)
			if err != nil {
				return err
			}
			fmt.Printf("journal %s (%d):\n", cfg.JournalPath, len(trades))
			return enc.Encode(trades)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of fills to show")
}
