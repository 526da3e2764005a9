package testutils

import (
	"context"
	"sync"

	"revbot/types"
)

// TradingStop records one SetTradingStop call.
type TradingStop struct {
	Symbol string
	TP     float64
	SL     float64
}

// MockGateway implements exchange.Gateway in memory. Behavior is
// scripted through the Fn hooks; unset hooks return benign zero values.
// Every order and bracket amendment is captured for assertions.
type MockGateway struct {
	mu sync.Mutex

	BalanceFn   func(coin string) (float64, error)
	TickersFn   func() ([]types.Ticker, error)
	KlinesFn    func(symbol string, limit int) (types.CandleSeries, error)
	PositionsFn func() (map[string]types.Position, error)
	ClosedPnLFn func(limit int) (float64, error)
	PrecisionFn func(symbol string) (types.Precision, error)
	PlaceFn     func(intent types.OrderIntent) (string, error)
	StopFn      func(symbol string, tp, sl float64) error

	balanceCalls  int
	tickersCalls  int
	positionCalls int
	orders        []types.OrderIntent
	stops         []TradingStop
}

// NewMockGateway returns an empty gateway: no balance, no symbols, no
// positions.
func NewMockGateway() *MockGateway { return &MockGateway{} }

func (m *MockGateway) Balance(_ context.Context, coin string) (float64, error) {
	m.mu.Lock()
	m.balanceCalls++
	fn := m.BalanceFn
	m.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(coin)
}

func (m *MockGateway) Tickers(_ context.Context) ([]types.Ticker, error) {
	m.mu.Lock()
	m.tickersCalls++
	fn := m.TickersFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (m *MockGateway) Klines(_ context.Context, symbol string, limit int) (types.CandleSeries, error) {
	if m.KlinesFn == nil {
		return nil, nil
	}
	return m.KlinesFn(symbol, limit)
}

func (m *MockGateway) Positions(_ context.Context) (map[string]types.Position, error) {
	m.mu.Lock()
	m.positionCalls++
	fn := m.PositionsFn
	m.mu.Unlock()
	if fn == nil {
		return map[string]types.Position{}, nil
	}
	return fn()
}

func (m *MockGateway) ClosedPnL(_ context.Context, limit int) (float64, error) {
	if m.ClosedPnLFn == nil {
		return 0, nil
	}
	return m.ClosedPnLFn(limit)
}

func (m *MockGateway) Precision(_ context.Context, symbol string) (types.Precision, error) {
	if m.PrecisionFn == nil {
		return types.Precision{Price: 2, Qty: 2}, nil
	}
	return m.PrecisionFn(symbol)
}

func (m *MockGateway) PlaceMarketOrder(_ context.Context, intent types.OrderIntent) (string, error) {
	m.mu.Lock()
	m.orders = append(m.orders, intent)
	fn := m.PlaceFn
	m.mu.Unlock()
	if fn == nil {
		return "mock-order", nil
	}
	return fn(intent)
}

func (m *MockGateway) SetTradingStop(_ context.Context, symbol string, tp, sl float64) error {
	m.mu.Lock()
	m.stops = append(m.stops, TradingStop{Symbol: symbol, TP: tp, SL: sl})
	fn := m.StopFn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(symbol, tp, sl)
}

// Orders returns a copy of all submitted order intents.
func (m *MockGateway) Orders() []types.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OrderIntent, len(m.orders))
	copy(out, m.orders)
	return out
}

// Stops returns a copy of all bracket amendments.
func (m *MockGateway) Stops() []TradingStop {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradingStop, len(m.stops))
	copy(out, m.stops)
	return out
}

// BalanceCalls reports how often Balance was polled.
func (m *MockGateway) BalanceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceCalls
}

// TickersCalls reports how often the scan touched the universe.
func (m *MockGateway) TickersCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickersCalls
}
