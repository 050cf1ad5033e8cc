package futures

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trading-agent/pkg/exchanges/common"

	"go.uber.org/zap"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	BaseURL    string // override for tests
}

// Client talks to Binance USDT-M futures and implements common.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	retry       common.RetryConfig
	log         *zap.Logger
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://fapi.binance.com"
		if cfg.Testnet {
			base = "https://testnet.binancefuture.com"
		}
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      common.DefaultRetry,
		log:        log,
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.GetServerTime(context.Background())
	})
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute)
	return c
}

// SyncTime refreshes the server clock offset used for signed requests.
func (c *Client) SyncTime() error {
	return c.timeSync.Sync()
}

// GetServerTime fetches exchange server time in milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

// Klines fetches the most recent candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var body []byte
	err := common.Retry(ctx, c.retry, func() error {
		var err error
		body, err = c.doPublic(ctx, "/fapi/v1/klines", params)
		return err
	})
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]common.Kline, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline; the last is unused.
		if len(item) < 11 {
			continue
		}
		klines = append(klines, common.Kline{
			OpenTime:            toInt64(item[0]),
			Open:                toFloat(item[1]),
			High:                toFloat(item[2]),
			Low:                 toFloat(item[3]),
			Close:               toFloat(item[4]),
			Volume:              toFloat(item[5]),
			CloseTime:           toInt64(item[6]),
			QuoteVolume:         toFloat(item[7]),
			NumberOfTrades:      toInt64(item[8]),
			TakerBuyBaseVolume:  toFloat(item[9]),
			TakerBuyQuoteVolume: toFloat(item[10]),
		})
	}
	return klines, nil
}

// FundingRate returns the latest funding records for a symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) ([]common.FundingRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", "1")

	var body []byte
	err := common.Retry(ctx, c.retry, func() error {
		var err error
		body, err = c.doPublic(ctx, "/fapi/v1/fundingRate", params)
		return err
	})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
		FundingTime int64  `json:"fundingTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode funding rate: %w", err)
	}

	rates := make([]common.FundingRate, 0, len(raw))
	for _, r := range raw {
		rate, _ := strconv.ParseFloat(r.FundingRate, 64)
		rates = append(rates, common.FundingRate{
			Symbol:      r.Symbol,
			FundingRate: rate,
			FundingTime: r.FundingTime,
		})
	}
	return rates, nil
}

// SubmitOrder places an order. Not retried: a timed-out submit may have
// reached the exchange, and a blind resend would double the position.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance futures: API key/secret required")
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", formatFloat(req.Qty))

	if req.Type == common.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}
	if req.Type == common.OrderTypeStopMarket || req.Type == common.OrderTypeTakeProfitMarket {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		Status        string `json:"status"`
		ClientOrderID string `json:"clientOrderId"`
		AvgPrice      string `json:"avgPrice"`
		Price         string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}

	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	if avg == 0 {
		avg, _ = strconv.ParseFloat(resp.Price, 64)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		AvgPrice:        avg,
	}, nil
}

// Positions returns the exchange's open positions (non-zero amounts).
func (c *Client) Positions(ctx context.Context) ([]common.RemotePosition, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance futures: API key/secret required")
	}

	var body []byte
	err := common.Retry(ctx, c.retry, func() error {
		params := url.Values{}
		var err error
		body, err = c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
		return err
	})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	var positions []common.RemotePosition
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		positions = append(positions, common.RemotePosition{
			Symbol:     p.Symbol,
			Qty:        qty,
			EntryPrice: entry,
			MarkPrice:  mark,
		})
	}
	return positions, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
		if used, limit, pct := c.rateLimiter.GetUsage(); pct >= 80 {
			c.log.Warn("approaching exchange rate limit",
				zap.Int("used", used), zap.Int("limit", limit), zap.Float64("pct", pct))
		}
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, &common.HTTPStatusError{StatusCode: res.StatusCode, Body: string(body)}
	}
	return body, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
