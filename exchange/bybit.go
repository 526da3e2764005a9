package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"revbot/config"
	"revbot/types"
)

const (
	mainnetURL = "https://api.bybit.com"
	demoURL    = "https://api-demo.bybit.com"

	category   = "linear"
	recvWindow = "5000"
	triggerBy  = "LastPrice"
)

// Bybit implements Gateway against the v5 unified-trading REST API.
type Bybit struct {
	// BaseURL is settable for tests; defaults to mainnet or the demo
	// environment depending on config.
	BaseURL string

	apiKey      string
	apiSecret   string
	timeframe   string
	quoteCoin   string
	excludeCoin string
	settleCoin  string

	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewBybit builds a REST gateway from the run configuration.
func NewBybit(cfg config.Config) *Bybit {
	base := mainnetURL
	if cfg.Demo {
		base = demoURL
	}
	return &Bybit{
		BaseURL:     base,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		timeframe:   cfg.Timeframe,
		quoteCoin:   cfg.QuoteCoin,
		excludeCoin: cfg.ExcludeCoin,
		settleCoin:  cfg.SettleCoin,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(10), 10),
		now:         time.Now,
	}
}

// envelope is the v5 response wrapper shared by every endpoint.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Balance fetches the unified-account wallet balance of one coin.
func (b *Bybit) Balance(ctx context.Context, coin string) (float64, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", coin)
	raw, err := b.get(ctx, "/v5/account/wallet-balance", q, true)
	if err != nil {
		return 0, err
	}
	var res struct {
		List []struct {
			Coin []struct {
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("decode wallet balance: %w", err)
	}
	if len(res.List) == 0 || len(res.List[0].Coin) == 0 {
		return 0, fmt.Errorf("wallet balance for %s missing: %w", coin, ErrUnavailable)
	}
	// A corrupt payload must not read as an empty wallet; treat it like
	// any other unusable answer and let the caller back off.
	bal, err := strconv.ParseFloat(res.List[0].Coin[0].WalletBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("wallet balance for %s malformed: %v: %w", coin, err, ErrUnavailable)
	}
	return bal, nil
}

// Tickers returns the tradable universe: quote-coin pairs with the
// stable-settled variant excluded, sorted by 24h volume descending.
func (b *Bybit) Tickers(ctx context.Context) ([]types.Ticker, error) {
	q := url.Values{}
	q.Set("category", category)
	raw, err := b.get(ctx, "/v5/market/tickers", q, false)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	out := make([]types.Ticker, 0, len(res.List))
	for _, item := range res.List {
		if !strings.Contains(item.Symbol, b.quoteCoin) || strings.Contains(item.Symbol, b.excludeCoin) {
			continue
		}
		out = append(out, types.Ticker{
			Symbol:    item.Symbol,
			Volume24h: parseFloat(item.Volume24h),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume24h > out[j].Volume24h })
	return out, nil
}

// Klines fetches up to limit candles of the configured timeframe. The
// venue answers newest first; the series is reversed to ascending order.
func (b *Bybit) Klines(ctx context.Context, symbol string, limit int) (types.CandleSeries, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("interval", b.timeframe)
	q.Set("limit", strconv.Itoa(limit))
	raw, err := b.get(ctx, "/v5/market/kline", q, false)
	if err != nil {
		return nil, err
	}
	var res struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	series := make(types.CandleSeries, 0, len(res.List))
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 7 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		series = append(series, types.Candle{
			Start:    time.UnixMilli(ms),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
			Turnover: parseFloat(row[6]),
		})
	}
	return series, nil
}

// Positions returns the open positions for the settle coin, keyed by
// symbol. Zero-size rows are dropped.
func (b *Bybit) Positions(ctx context.Context) (map[string]types.Position, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("settleCoin", b.settleCoin)
	raw, err := b.get(ctx, "/v5/position/list", q, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			Size      string `json:"size"`
			AvgPrice  string `json:"avgPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make(map[string]types.Position, len(res.List))
	for _, item := range res.List {
		size := parseFloat(item.Size)
		if size == 0 {
			continue
		}
		out[item.Symbol] = types.Position{
			Symbol:     item.Symbol,
			Side:       types.Side(item.Side),
			Size:       size,
			EntryPrice: parseFloat(item.AvgPrice),
			MarkPrice:  parseFloat(item.MarkPrice),
		}
	}
	return out, nil
}

// ClosedPnL sums realized PnL over the most recent limit closed trades.
func (b *Bybit) ClosedPnL(ctx context.Context, limit int) (float64, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("limit", strconv.Itoa(limit))
	raw, err := b.get(ctx, "/v5/position/closed-pnl", q, true)
	if err != nil {
		return 0, err
	}
	var res struct {
		List []struct {
			ClosedPnl string `json:"closedPnl"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("decode closed pnl: %w", err)
	}
	total := 0.0
	for _, item := range res.List {
		total += parseFloat(item.ClosedPnl)
	}
	return total, nil
}

// Precision derives the decimal counts from the instrument's tick size
// and lot step.
func (b *Bybit) Precision(ctx context.Context, symbol string) (types.Precision, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	raw, err := b.get(ctx, "/v5/market/instruments-info", q, false)
	if err != nil {
		return types.Precision{}, err
	}
	var res struct {
		List []struct {
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.Precision{}, fmt.Errorf("decode instrument info: %w", err)
	}
	if len(res.List) == 0 {
		return types.Precision{}, fmt.Errorf("instrument %s missing: %w", symbol, ErrUnavailable)
	}
	return types.Precision{
		Price: decimals(res.List[0].PriceFilter.TickSize),
		Qty:   decimals(res.List[0].LotSizeFilter.QtyStep),
	}, nil
}

// PlaceMarketOrder submits a market order with attached TP/SL triggers.
func (b *Bybit) PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	trigger := intent.TriggerBy
	if trigger == "" {
		trigger = triggerBy
	}
	body := map[string]any{
		"category":    category,
		"symbol":      intent.Symbol,
		"side":        string(intent.Side),
		"orderType":   "Market",
		"qty":         formatNum(intent.Qty),
		"orderLinkId": uuid.NewString(),
	}
	if intent.TakeProfit > 0 {
		body["takeProfit"] = formatNum(intent.TakeProfit)
		body["tpTriggerBy"] = trigger
	}
	if intent.StopLoss > 0 {
		body["stopLoss"] = formatNum(intent.StopLoss)
		body["slTriggerBy"] = trigger
	}
	if intent.ReduceOnly {
		body["reduceOnly"] = true
	}
	raw, err := b.post(ctx, "/v5/order/create", body)
	if err != nil {
		return "", err
	}
	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode order ack: %w", err)
	}
	return res.OrderID, nil
}

// SetTradingStop amends the TP/SL of an open position in place, without
// touching its size.
func (b *Bybit) SetTradingStop(ctx context.Context, symbol string, tp, sl float64) error {
	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"takeProfit":  formatNum(tp),
		"stopLoss":    formatNum(sl),
		"tpTriggerBy": triggerBy,
		"slTriggerBy": triggerBy,
		"positionIdx": 0,
	}
	_, err := b.post(ctx, "/v5/position/trading-stop", body)
	return err
}

func (b *Bybit) get(ctx context.Context, path string, q url.Values, signed bool) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if signed {
		b.sign(req, q.Encode())
	}
	return b.do(req, path)
}

func (b *Bybit) post(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.sign(req, string(payload))
	return b.do(req, path)
}

// sign attaches the v5 authentication headers: an HMAC-SHA256 over
// timestamp + api key + recv window + query string or JSON body.
func (b *Bybit) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(ts + b.apiKey + recvWindow + payload))
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func (b *Bybit) do(req *http.Request, path string) (json.RawMessage, error) {
	res, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrUnavailable)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrUnavailable)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", path, res.StatusCode, ErrUnavailable)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: decode envelope: %w", path, err)
	}
	if env.RetCode != 0 {
		return nil, &APIError{Code: env.RetCode, Msg: env.RetMsg}
	}
	return env.Result, nil
}

// decimals counts the fractional digits of a venue-advertised step such
// as "0.001".
func decimals(step string) int {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return len(step) - i - 1
	}
	return 0
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
