package exchange

import (
	"context"
	"fmt"
	"sync"

	"revbot/types"
)

// Paper wraps a real gateway for dry runs: market reads pass through, but
// orders fill instantly in memory at the intent's reference price and the
// simulated positions are what Positions reports. No request ever reaches
// the venue's order surface.
type Paper struct {
	market Gateway

	mu        sync.Mutex
	balance   float64
	positions map[string]types.Position
	brackets  map[string][2]float64
	closed    []float64
	seq       int
}

// NewPaper builds the wrapper with a starting simulated balance.
func NewPaper(market Gateway, startBalance float64) *Paper {
	return &Paper{
		market:    market,
		balance:   startBalance,
		positions: make(map[string]types.Position),
		brackets:  make(map[string][2]float64),
	}
}

// Balance reports the simulated wallet, not the venue's.
func (p *Paper) Balance(ctx context.Context, coin string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) Tickers(ctx context.Context) ([]types.Ticker, error) {
	return p.market.Tickers(ctx)
}

func (p *Paper) Klines(ctx context.Context, symbol string, limit int) (types.CandleSeries, error) {
	return p.market.Klines(ctx, symbol, limit)
}

func (p *Paper) Positions(ctx context.Context) (map[string]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos
	}
	return out, nil
}

func (p *Paper) ClosedPnL(ctx context.Context, limit int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := 0
	if limit > 0 && len(p.closed) > limit {
		start = len(p.closed) - limit
	}
	total := 0.0
	for _, pnl := range p.closed[start:] {
		total += pnl
	}
	return total, nil
}

func (p *Paper) Precision(ctx context.Context, symbol string) (types.Precision, error) {
	return p.market.Precision(ctx, symbol)
}

// PlaceMarketOrder fills at intent.Price. A reduce-only order flattens an
// existing position and books its realized PnL; anything else opens a new
// one, mirroring the venue's one-position-per-symbol model.
func (p *Paper) PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if intent.Qty <= 0 {
		return "", fmt.Errorf("paper: non-positive qty %v", intent.Qty)
	}
	if intent.Price <= 0 {
		return "", fmt.Errorf("paper: order for %s carries no reference price", intent.Symbol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if intent.ReduceOnly {
		pos, ok := p.positions[intent.Symbol]
		if !ok {
			return "", fmt.Errorf("paper: no position in %s to reduce", intent.Symbol)
		}
		pnl := (intent.Price - pos.EntryPrice) * pos.Size
		if pos.Side == types.Sell {
			pnl = -pnl
		}
		p.closed = append(p.closed, pnl)
		p.balance += pnl
		delete(p.positions, intent.Symbol)
		delete(p.brackets, intent.Symbol)
		return p.nextID(), nil
	}

	if _, held := p.positions[intent.Symbol]; held {
		return "", fmt.Errorf("paper: position in %s already open", intent.Symbol)
	}
	p.positions[intent.Symbol] = types.Position{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Size:       intent.Qty,
		EntryPrice: intent.Price,
		MarkPrice:  intent.Price,
	}
	p.brackets[intent.Symbol] = [2]float64{intent.TakeProfit, intent.StopLoss}
	return p.nextID(), nil
}

func (p *Paper) SetTradingStop(ctx context.Context, symbol string, tp, sl float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.positions[symbol]; !ok {
		return fmt.Errorf("paper: no position in %s", symbol)
	}
	p.brackets[symbol] = [2]float64{tp, sl}
	return nil
}

// Brackets exposes the simulated TP/SL of a symbol for assertions.
func (p *Paper) Brackets(symbol string) (tp, sl float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brackets[symbol]
	return b[0], b[1], ok
}

func (p *Paper) nextID() string {
	p.seq++
	return fmt.Sprintf("paper-%d", p.seq)
}
