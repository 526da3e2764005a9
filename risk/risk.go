// Package risk turns a trade intent into exchange-acceptable order
// numbers: fixed-notional position sizing and bracket trigger prices,
// both rounded to the instrument's precision.
package risk

import (
	"errors"
	"fmt"
	"math"

	"revbot/types"
)

// ErrQtyBelowLot reports a quantity that rounds to zero at the
// instrument's lot precision. It is reportable but non-fatal; the caller
// skips the order.
var ErrQtyBelowLot = errors.New("quantity below minimum lot")

// Round rounds v half away from zero to the given number of decimals.
// Rounding an already rounded value is a no-op.
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

// Qty converts a fixed quote-currency notional into a base quantity at
// the reference price, rounded to the lot precision.
func Qty(notional, price float64, decimals int) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("non-positive reference price %v", price)
	}
	q := Round(notional/price, decimals)
	if q == 0 {
		return 0, ErrQtyBelowLot
	}
	return q, nil
}

// Brackets computes the take-profit and stop-loss trigger prices for a
// position entered at ref. The take profit is measured from anchor, the
// stop loss always from ref; the two differ when a variant anchors its
// target to the moving average while protecting off the live price.
func Brackets(side types.Side, ref, anchor, tpPct, slPct float64, priceDecimals int) (tp, sl float64) {
	if side == types.Buy {
		tp = anchor * (1 + tpPct)
		sl = ref * (1 - slPct)
	} else {
		tp = anchor * (1 - tpPct)
		sl = ref * (1 + slPct)
	}
	return Round(tp, priceDecimals), Round(sl, priceDecimals)
}
