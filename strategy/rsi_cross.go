package strategy

import (
	"math"

	"revbot/indicator"
	"revbot/types"
)

// RSICross emits a signal when the RSI leaves an extreme zone: two
// consecutive readings beyond the bound followed by one that has crossed
// back. Exiting oversold is a buy, exiting overbought is a sell.
type RSICross struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSICross builds the generator with the conventional 30/70 bounds.
func NewRSICross(period int) *RSICross {
	if period <= 0 {
		period = indicator.DefaultRSIPeriod
	}
	return &RSICross{
		Period:     period,
		Oversold:   30,
		Overbought: 70,
	}
}

func (r *RSICross) Name() string { return "rsi_cross" }

// MinBars covers the RSI warm-up plus the three readings the pattern
// consumes.
func (r *RSICross) MinBars() int { return r.Period + 3 }

func (r *RSICross) Evaluate(series types.CandleSeries) types.Signal {
	if len(series) < r.MinBars() {
		return types.None
	}
	rsi := indicator.RSI(series.Closes(), r.Period)
	n := len(rsi)
	return r.crossover(rsi[n-3], rsi[n-2], rsi[n-1])
}

// crossover applies the three-value exit pattern. Any undefined reading
// means the window is still warming up and no signal is produced.
func (r *RSICross) crossover(r3, r2, r1 float64) types.Signal {
	if math.IsNaN(r3) || math.IsNaN(r2) || math.IsNaN(r1) {
		return types.None
	}
	switch {
	case r3 < r.Oversold && r2 < r.Oversold && r1 > r.Oversold:
		return types.SignalBuy
	case r3 > r.Overbought && r2 > r.Overbought && r1 < r.Overbought:
		return types.SignalSell
	}
	return types.None
}
