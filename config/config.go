// Package config loads the bot configuration.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// an optional .env file, then environment variables. Credentials are
// normally supplied through the environment only.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"breakoutbot/internal/markethours"
	"breakoutbot/internal/strategy"
)

var (
	ErrMissingSymbol = errors.New("config: symbol is required")
	ErrMissingPeriod = errors.New("config: candle period is required")
)

// Periods lists the supported candle periods (Binance kline intervals).
var Periods = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// Config holds all application configuration.
type Config struct {
	Symbol      string `yaml:"symbol"`
	Base        string `yaml:"base"`
	Quote       string `yaml:"quote"`
	Period      string `yaml:"period"`
	CandleLimit int    `yaml:"candle_limit"`
	Timezone    string `yaml:"timezone"`
	LogLevel    string `yaml:"log_level"`

	// Strategy
	FloorDecimals  int           `yaml:"floor_decimals"`
	InitCapital    float64       `yaml:"init_capital"`
	MaxBudget      float64       `yaml:"max_budget"`
	CommissionRate float64       `yaml:"commission_rate"` // percent per side
	Paper          bool          `yaml:"paper"`
	BuyUnit        float64       `yaml:"buy_unit"`
	BuyDelay       time.Duration `yaml:"buy_delay"`
	WeekStart      string        `yaml:"week_start"` // weekday name, e.g. "mon"
	HourStart      int           `yaml:"hour_start"`
	LongRate       float64       `yaml:"long_rate"`
	ShortRate      float64       `yaml:"short_rate"`

	// Exchange
	Testnet        bool          `yaml:"testnet"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Notifications
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID string        `yaml:"telegram_chat_id"`
	WebhookURL     string        `yaml:"webhook_url"`
	SendInterval   time.Duration `yaml:"send_interval"`
	IdleInterval   time.Duration `yaml:"idle_interval"`

	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"` // empty disables the status store
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	SQLitePath    string `yaml:"sqlite_path"`
	JournalPath   string `yaml:"journal_path"`
	MetricsAddr   string `yaml:"metrics_addr"` // empty disables the metrics server

	loc     *time.Location
	weekday time.Weekday
}

// Default returns the built-in configuration: BTCUSDT on 4h candles,
// paper trading.
func Default() *Config {
	return &Config{
		Symbol:      "BTCUSDT",
		Base:        "BTC",
		Quote:       "USDT",
		Period:      "4h",
		CandleLimit: 24 * 7 * 2,
		Timezone:    "Asia/Seoul",
		LogLevel:    "info",

		FloorDecimals:  3,
		InitCapital:    1000,
		MaxBudget:      1000000,
		CommissionRate: 0.1,
		Paper:          true,
		BuyUnit:        0.01,
		BuyDelay:       0,
		WeekStart:      "mon",
		HourStart:      0,
		LongRate:       0.6,
		ShortRate:      0.5,

		ReconnectDelay: 5 * time.Second,
		SendInterval:   500 * time.Millisecond,
		IdleInterval:   time.Second,

		RedisPrefix: "breakoutbot",
		SQLitePath:  "data/candles.db",
		JournalPath: "data/journal.db",
		MetricsAddr: ":9090",
	}
}

// Load builds the configuration from path (YAML, optional), .env and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Symbol = getEnv("BOT_SYMBOL", c.Symbol)
	c.Period = getEnv("BOT_PERIOD", c.Period)
	c.Timezone = getEnv("BOT_TIMEZONE", c.Timezone)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.APIKey = getEnv("BINANCE_API_KEY", c.APIKey)
	c.APISecret = getEnv("BINANCE_API_SECRET", c.APISecret)
	c.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	if v := os.Getenv("BOT_PAPER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("[config] ignoring invalid BOT_PAPER value: %q", v)
		} else {
			c.Paper = b
		}
	}
}

// Validate checks the configuration and resolves the timezone and week
// start day.
func (c *Config) Validate() error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		return ErrMissingSymbol
	}
	if c.Period == "" {
		return ErrMissingPeriod
	}
	if _, ok := Periods[c.Period]; !ok {
		return fmt.Errorf("config: unsupported candle period %q", c.Period)
	}
	if c.CandleLimit <= 0 {
		return fmt.Errorf("config: candle_limit must be positive, got %d", c.CandleLimit)
	}
	if c.LongRate <= 0 || c.LongRate > 1 {
		return fmt.Errorf("config: long_rate must be in (0,1], got %v", c.LongRate)
	}
	if c.ShortRate <= 0 || c.ShortRate > 1 {
		return fmt.Errorf("config: short_rate must be in (0,1], got %v", c.ShortRate)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("config: commission_rate must not be negative, got %v", c.CommissionRate)
	}
	if c.FloorDecimals < 0 {
		return fmt.Errorf("config: floor_decimals must not be negative, got %d", c.FloorDecimals)
	}
	if c.HourStart < 0 || c.HourStart > 23 {
		return fmt.Errorf("config: hour_start must be in [0,23], got %d", c.HourStart)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc

	day, err := markethours.ParseWeekday(c.WeekStart)
	if err != nil {
		return fmt.Errorf("config: week_start: %w", err)
	}
	c.weekday = day
	return nil
}

// Location returns the bot timezone. Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// PeriodDuration returns the candle period as a duration.
func (c *Config) PeriodDuration() time.Duration { return Periods[c.Period] }

// HasCredentials reports whether exchange API keys are set.
func (c *Config) HasCredentials() bool { return c.APIKey != "" && c.APISecret != "" }

// Strategy returns the strategy parameters. Valid after Validate.
func (c *Config) Strategy() strategy.Config {
	return strategy.Config{
		Symbol:         c.Symbol,
		Base:           c.Base,
		Quote:          c.Quote,
		FloorDecimals:  c.FloorDecimals,
		InitCapital:    c.InitCapital,
		MaxBudget:      c.MaxBudget,
		CommissionRate: c.CommissionRate,
		Paper:          c.Paper,
		BuyUnit:        c.BuyUnit,
		BuyDelay:       c.BuyDelay,
		WeekStart:      c.weekday,
		HourStart:      c.HourStart,
		LongRate:       c.LongRate,
		ShortRate:      c.ShortRate,
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
