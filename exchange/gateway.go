// Package exchange talks to the derivatives venue. The engine consumes
// the Gateway interface so the venue can be substituted by a test double
// or by the paper wrapper; Bybit is the production implementation.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"revbot/types"
)

// ErrUnavailable marks a transient transport failure: the venue could not
// be reached or did not answer in time. Callers skip the affected unit of
// work and retry next cycle.
var ErrUnavailable = errors.New("exchange unavailable")

// APIError is a rejection the venue returned with a non-zero retCode
// (bad precision, minimum size, insufficient margin). The attempt is
// abandoned for the cycle; there is no retry storm.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Msg)
}

// Gateway is the full market-data and order surface the engine needs.
// Position truth lives behind this interface; the engine re-fetches it
// every decision.
type Gateway interface {
	// Balance returns the wallet balance of the given coin.
	Balance(ctx context.Context, coin string) (float64, error)
	// Tickers returns the tradable universe filtered to the quote coin,
	// sorted by 24h volume descending.
	Tickers(ctx context.Context) ([]types.Ticker, error)
	// Klines returns up to limit candles for the configured timeframe,
	// oldest first.
	Klines(ctx context.Context, symbol string, limit int) (types.CandleSeries, error)
	// Positions returns the open positions keyed by symbol.
	Positions(ctx context.Context) (map[string]types.Position, error)
	// ClosedPnL sums realized PnL over the most recent limit closed trades.
	ClosedPnL(ctx context.Context, limit int) (float64, error)
	// Precision returns the price/quantity decimal counts for a symbol.
	Precision(ctx context.Context, symbol string) (types.Precision, error)
	// PlaceMarketOrder submits a market order with attached brackets. A
	// returned order id means acceptance, not fill.
	PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (string, error)
	// SetTradingStop amends the TP/SL of an open position in place.
	SetTradingStop(ctx context.Context, symbol string, tp, sl float64) error
}
