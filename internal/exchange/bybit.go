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
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	recvWindow = "5000"
)

// BybitClient implements Gateway against the Bybit v5 REST API.
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	category   string // linear, inverse, spot
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBybitClient creates a Bybit v5 REST client. category is the product
// category used for market and order endpoints ("linear" for USDT perps).
func NewBybitClient(apiKey, apiSecret string, testnet bool, category string, logger zerolog.Logger) *BybitClient {
	baseURL := bybitMainnetURL
	if testnet {
		baseURL = bybitTestnetURL
	}
	if category == "" {
		category = "linear"
	}
	return &BybitClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		category:  category,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "bybit_client").Logger(),
	}
}

// bybitResponse is the v5 envelope every endpoint returns.
type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *BybitClient) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BybitClient) doGet(ctx context.Context, endpoint string, params url.Values, signed bool) (json.RawMessage, error) {
	query := params.Encode()
	reqURL := c.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if signed {
		c.applyAuthHeaders(req, query)
	}
	return c.execute(req)
}

func (c *BybitClient) doPost(ctx context.Context, endpoint string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuthHeaders(req, string(payload))
	return c.execute(req)
}

func (c *BybitClient) applyAuthHeaders(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
}

func (c *BybitClient) execute(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var envelope bybitResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", envelope.RetCode, envelope.RetMsg)
	}
	return envelope.Result, nil
}

// ServerTime probes connectivity via /v5/market/time.
func (c *BybitClient) ServerTime(ctx context.Context) (int64, error) {
	raw, err := c.doGet(ctx, "/v5/market/time", nil, false)
	if err != nil {
		return 0, err
	}
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("parsing server time: %w", err)
	}
	sec, err := strconv.ParseInt(result.TimeSecond, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing server time %q: %w", result.TimeSecond, err)
	}
	return sec, nil
}

// GetBalance returns the available USDT balance for the given account type.
func (c *BybitClient) GetBalance(ctx context.Context, accountType string) (float64, error) {
	params := url.Values{}
	params.Set("accountType", accountType)
	params.Set("coin", "USDT")

	raw, err := c.doGet(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("parsing wallet balance: %w", err)
	}
	for _, account := range result.List {
		for _, coin := range account.Coin {
			if coin.Coin != "USDT" {
				continue
			}
			if v, err := strconv.ParseFloat(coin.AvailableToWithdraw, 64); err == nil && v > 0 {
				return v, nil
			}
			// Some account types report an empty withdrawable amount;
			// fall back to the wallet balance.
			if v, err := strconv.ParseFloat(coin.WalletBalance, 64); err == nil {
				return v, nil
			}
		}
	}
	return 0, fmt.Errorf("no USDT balance in wallet-balance response")
}

// GetPrice returns the last traded price for a symbol.
func (c *BybitClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	raw, err := c.doGet(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, err
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("parsing tickers: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing last price %q: %w", result.List[0].LastPrice, err)
	}
	return price, nil
}

// GetCandles returns up to limit candles for symbol, oldest first. Bybit
// returns newest first, so the slice is reversed before returning.
func (c *BybitClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.doGet(ctx, "/v5/market/kline", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 7 {
			return nil, fmt.Errorf("unexpected kline row length %d", len(row))
		}
		openTime, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, Kline{
			OpenTime: openTime,
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
			Turnover: parseFloat(row[6]),
		})
	}
	return klines, nil
}

// GetOpenPositions returns open positions with non-zero size.
func (c *BybitClient) GetOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	params.Set("category", c.category)
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", "USDT")
	}

	raw, err := c.doGet(ctx, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Size        string `json:"size"`
			AvgPrice    string `json:"avgPrice"`
			StopLoss    string `json:"stopLoss"`
			TakeProfit  string `json:"takeProfit"`
			CreatedTime string `json:"createdTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing position list: %w", err)
	}

	positions := make([]Position, 0, len(result.List))
	for _, p := range result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		createdMs, _ := strconv.ParseInt(p.CreatedTime, 10, 64)
		positions = append(positions, Position{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   size,
			EntryPrice: parseFloat(p.AvgPrice),
			StopLoss:   parseFloat(p.StopLoss),
			TakeProfit: parseFloat(p.TakeProfit),
			OpenedAt:   time.UnixMilli(createdMs),
		})
	}
	return positions, nil
}

// GetInstrumentInfo returns the lot size constraints for a symbol.
func (c *BybitClient) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	raw, err := c.doGet(ctx, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
				QtyStep     string `json:"qtyStep"`
				MinOrderAmt string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing instruments-info: %w", err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("no instrument info for %s", symbol)
	}

	lot := result.List[0].LotSizeFilter
	info := &InstrumentInfo{
		Symbol:        symbol,
		MinOrderQty:   parseFloat(lot.MinOrderQty),
		MaxOrderQty:   parseFloat(lot.MaxOrderQty),
		QtyStep:       parseFloat(lot.QtyStep),
		MinOrderValue: parseFloat(lot.MinOrderAmt),
	}
	if info.MinOrderValue == 0 {
		info.MinOrderValue = 5.0
	}
	return info, nil
}

// PlaceOrder submits an order via /v5/order/create.
func (c *BybitClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := map[string]interface{}{
		"category":  c.category,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"orderType": req.OrderType,
		"qty":       strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	if req.OrderType == OrderTypeLimit && req.Price > 0 {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.OrderLinkID != "" {
		body["orderLinkId"] = req.OrderLinkID
	}

	raw, err := c.doPost(ctx, "/v5/order/create", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}

	c.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Float64("qty", req.Quantity).
		Str("order_id", result.OrderID).
		Msg("Order placed")

	return &OrderResult{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
