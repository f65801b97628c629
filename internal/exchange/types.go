package exchange

import "time"

// Kline represents a single OHLCV candle.
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover"`
	CloseTime int64   `json:"closeTime"`
}

// Position represents an open position on the exchange.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // Buy or Sell
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// InstrumentInfo holds the exchange's order constraints for a symbol.
type InstrumentInfo struct {
	Symbol        string  `json:"symbol"`
	MinOrderQty   float64 `json:"min_order_qty"`
	MaxOrderQty   float64 `json:"max_order_qty"`
	QtyStep       float64 `json:"qty_step"`
	MinOrderValue float64 `json:"min_order_value"` // USDT notional floor
}

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`       // Buy or Sell
	OrderType   string  `json:"order_type"` // Market or Limit
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price,omitempty"` // limit orders only
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit  float64 `json:"take_profit,omitempty"`
	OrderLinkID string  `json:"order_link_id,omitempty"`
}

// OrderResult is the exchange's acknowledgement of a placed order.
type OrderResult struct {
	OrderID     string `json:"order_id"`
	OrderLinkID string `json:"order_link_id"`
}

// Order sides as Bybit v5 spells them.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"
)

// Order types.
const (
	OrderTypeMarket = "Market"
	OrderTypeLimit  = "Limit"
)
