package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"breakoutbot/internal/model"
)

// ErrNoCredentials is returned by signed calls without an API key/secret.
var ErrNoCredentials = errors.New("binance futures: API key/secret required")

// FuturesConfig holds USDT-M futures credentials and the traded symbol.
type FuturesConfig struct {
	APIKey     string
	APISecret  string
	Symbol     string // e.g. BTCUSDT
	Quote      string // balance asset, e.g. USDT
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the Testnet switch when set
}

// FuturesClient places market orders for one symbol. It implements
// model.MarketAPI; every call returns the quantity Binance executed.
// One-way position mode is assumed.
type FuturesClient struct {
	cfg        FuturesConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ model.MarketAPI = (*FuturesClient)(nil)

// NewFuturesClient creates a futures client.
func NewFuturesClient(cfg FuturesConfig) *FuturesClient {
	base := cfg.BaseURL
	if base == "" {
		base = futuresBaseURL
		if cfg.Testnet {
			base = testnetBaseURL
		}
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	return &FuturesClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (c *FuturesClient) OpenLong(ctx context.Context, qty float64) (float64, error) {
	return c.marketOrder(ctx, "BUY", qty, false)
}

func (c *FuturesClient) OpenShort(ctx context.Context, qty float64) (float64, error) {
	return c.marketOrder(ctx, "SELL", qty, false)
}

// CloseLong sells the whole long position. No long position fills zero.
func (c *FuturesClient) CloseLong(ctx context.Context) (float64, error) {
	amt, err := c.PositionAmount(ctx)
	if err != nil {
		return 0, err
	}
	if amt <= 0 {
		log.Printf("[binance] close long: no long position (amt=%v)", amt)
		return 0, nil
	}
	return c.marketOrder(ctx, "SELL", amt, true)
}

// CloseShort buys back the whole short position. No short position fills zero.
func (c *FuturesClient) CloseShort(ctx context.Context) (float64, error) {
	amt, err := c.PositionAmount(ctx)
	if err != nil {
		return 0, err
	}
	if amt >= 0 {
		log.Printf("[binance] close short: no short position (amt=%v)", amt)
		return 0, nil
	}
	return c.marketOrder(ctx, "BUY", -amt, true)
}

// AccountBalance returns the wallet balance of the quote asset.
func (c *FuturesClient) AccountBalance(ctx context.Context) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return 0, err
	}
	var balances []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	for _, b := range balances {
		if strings.EqualFold(b.Asset, c.cfg.Quote) {
			return strconv.ParseFloat(b.Balance, 64)
		}
	}
	return 0, nil
}

// PositionAmount returns the signed position size for the symbol.
func (c *FuturesClient) PositionAmount(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return 0, err
	}
	var positions []struct {
		Symbol       string `json:"symbol"`
		PositionSide string `json:"positionSide"`
		PositionAmt  string `json:"positionAmt"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		return 0, fmt.Errorf("decode positions: %w", err)
	}
	total := 0.0
	for _, p := range positions {
		if p.Symbol != c.cfg.Symbol {
			continue
		}
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return 0, fmt.Errorf("parse position amount %q: %w", p.PositionAmt, err)
		}
		total += amt
	}
	return total, nil
}

func (c *FuturesClient) marketOrder(ctx context.Context, side string, qty float64, reduceOnly bool) (float64, error) {
	if qty <= 0 || math.IsNaN(qty) {
		return 0, fmt.Errorf("binance futures: invalid quantity %v", qty)
	}
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(qty))
	params.Set("newClientOrderId", "bb-"+strings.ReplaceAll(uuid.NewString(), "-", "")[:24])
	params.Set("newOrderRespType", "RESULT")
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode order: %w", err)
	}
	filled, err := strconv.ParseFloat(resp.ExecutedQty, 64)
	if err != nil {
		return 0, fmt.Errorf("parse executed qty %q: %w", resp.ExecutedQty, err)
	}
	log.Printf("[binance] %s %s qty=%v filled=%v avg=%s status=%s order=%d",
		side, c.cfg.Symbol, qty, filled, resp.AvgPrice, resp.Status, resp.OrderID)
	return filled, nil
}

// doSigned signs params with HMAC-SHA256 and sends the request.
func (c *FuturesClient) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, ErrNoCredentials
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	payload := params.Encode()
	encoded := payload + "&signature=" + sign(payload, c.cfg.APISecret)

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance futures %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance futures %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}

// sign returns the hex HMAC-SHA256 of payload.
func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
