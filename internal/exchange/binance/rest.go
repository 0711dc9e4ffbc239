// Package binance talks to Binance USDT-M futures: public klines over REST
// and websocket, and signed market orders for the live MarketAPI.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"breakoutbot/internal/model"
)

const (
	futuresBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	// MaxKlineLimit is the largest page /fapi/v1/klines returns.
	MaxKlineLimit = 1500
)

// Kline is one candlestick as Binance reports it.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  int64 // ms
	CloseTime int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool // stream only; REST klines older than now are closed
}

// Candle converts the kline to the strategy's candle.
func (k Kline) Candle() model.Candle {
	return model.Candle{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   k.Open,
		High:   k.High,
		Low:    k.Low,
		Close:  k.Close,
		Volume: k.Volume,
	}
}

// Client wraps public REST access.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a REST client; testnet switches the base URL.
func NewClient(testnet bool) *Client {
	base := futuresBaseURL
	if testnet {
		base = testnetBaseURL
	}
	return &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// GetKlines fetches klines. Zero startTime/endTime (ms) returns the most
// recent ones.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		if limit > MaxKlineLimit {
			limit = MaxKlineLimit
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/fapi/v1/klines?%s", c.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("binance klines status %d: %s", res.StatusCode, string(b))
	}

	var raw [][]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance klines decode: %w", err)
	}

	nowMs := time.Now().UnixMilli()
	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 7 {
			continue
		}
		k := Kline{
			Symbol:    strings.ToUpper(symbol),
			Interval:  interval,
			OpenTime:  toInt64(item[0]),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
			CloseTime: toInt64(item[6]),
		}
		k.Closed = k.CloseTime < nowMs
		klines = append(klines, k)
	}
	return klines, nil
}

// ClosedCandles returns up to limit of the most recent closed candles,
// paging backwards when limit exceeds one page.
func (c *Client) ClosedCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	var pages [][]model.Candle
	total := 0
	var endTime int64

	for total < limit {
		page := limit - total + 1 // +1 for the still-forming kline
		if page > MaxKlineLimit {
			page = MaxKlineLimit
		}
		klines, err := c.GetKlines(ctx, symbol, interval, page, 0, endTime)
		if err != nil {
			return nil, err
		}
		var closed []model.Candle
		for _, k := range klines {
			if k.Closed {
				closed = append(closed, k.Candle())
			}
		}
		if len(closed) == 0 {
			break
		}
		if len(closed) > limit-total {
			closed = closed[len(closed)-(limit-total):]
		}
		pages = append(pages, closed)
		total += len(closed)
		endTime = closed[0].Time.UnixMilli() - 1
		if len(klines) < page {
			break
		}
	}

	out := make([]model.Candle, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out, nil
}

// GetServerTime fetches futures server time in milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance server time status %d", res.StatusCode)
	}

	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
