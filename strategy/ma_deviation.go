package strategy

import (
	"math"

	"revbot/indicator"
	"revbot/types"
)

// MADeviation trades price excursions beyond a fractional band around a
// simple moving average: an overextension above the band is shorted, one
// below is bought, expecting reversion toward the mean.
type MADeviation struct {
	Period    int
	Threshold float64
}

// NewMADeviation builds the generator for the given SMA window and
// fractional deviation threshold.
func NewMADeviation(period int, threshold float64) *MADeviation {
	return &MADeviation{Period: period, Threshold: threshold}
}

func (m *MADeviation) Name() string { return "ma_deviation" }

func (m *MADeviation) MinBars() int { return m.Period }

// Deviation returns the fractional distance of the latest close from the
// moving average together with the average itself. ok is false while the
// series is shorter than the SMA window.
func (m *MADeviation) Deviation(series types.CandleSeries) (dev, sma float64, ok bool) {
	if len(series) < m.MinBars() {
		return 0, 0, false
	}
	smaSeries := indicator.SMA(series.Closes(), m.Period)
	sma = smaSeries[len(smaSeries)-1]
	if math.IsNaN(sma) || sma == 0 {
		return 0, 0, false
	}
	last, _ := series.Last()
	return (last.Close - sma) / sma, sma, true
}

func (m *MADeviation) Evaluate(series types.CandleSeries) types.Signal {
	dev, _, ok := m.Deviation(series)
	if !ok {
		return types.None
	}
	switch {
	case dev > m.Threshold:
		return types.SignalSell
	case dev < -m.Threshold:
		return types.SignalBuy
	}
	return types.None
}
