package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway is an in-memory Gateway for tests and dry-run mode. Fields may
// be pre-populated with canned data; any call can be forced to fail by
// setting the corresponding error.
type MockGateway struct {
	mu sync.Mutex

	Balance     float64
	Prices      map[string]float64
	Candles     map[string][]Kline
	Positions   []Position
	Instruments map[string]*InstrumentInfo

	ServerTimeErr error
	BalanceErr    error
	PriceErr      error
	CandlesErr    error
	PositionsErr  error
	InstrumentErr error
	PlaceOrderErr error

	PlacedOrders []OrderRequest
	orderSeq     int
}

// NewMockGateway creates a mock with empty canned data.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Prices:      make(map[string]float64),
		Candles:     make(map[string][]Kline),
		Instruments: make(map[string]*InstrumentInfo),
	}
}

func (m *MockGateway) ServerTime(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ServerTimeErr != nil {
		return 0, m.ServerTimeErr
	}
	return time.Now().Unix(), nil
}

func (m *MockGateway) GetBalance(ctx context.Context, accountType string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return 0, m.BalanceErr
	}
	return m.Balance, nil
}

func (m *MockGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (m *MockGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CandlesErr != nil {
		return nil, m.CandlesErr
	}
	candles, ok := m.Candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (m *MockGateway) GetOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	if symbol == "" {
		return append([]Position(nil), m.Positions...), nil
	}
	var filtered []Position
	for _, p := range m.Positions {
		if p.Symbol == symbol {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

func (m *MockGateway) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InstrumentErr != nil {
		return nil, m.InstrumentErr
	}
	info, ok := m.Instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("no instrument info for %s", symbol)
	}
	copied := *info
	return &copied, nil
}

func (m *MockGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceOrderErr != nil {
		return nil, m.PlaceOrderErr
	}
	m.orderSeq++
	m.PlacedOrders = append(m.PlacedOrders, req)
	m.Positions = append(m.Positions, Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   time.Now(),
	})
	return &OrderResult{
		OrderID:     fmt.Sprintf("mock-%d", m.orderSeq),
		OrderLinkID: req.OrderLinkID,
	}, nil
}
