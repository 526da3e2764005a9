// Package strategy contains the stateless signal generators. A generator
// maps a fresh candle window to a trade intent and keeps no memory between
// evaluations, so it is safe to re-run every cycle.
package strategy

import (
	"fmt"

	"revbot/config"
	"revbot/types"
)

// Strategy turns a candle series into a trade intent.
type Strategy interface {
	Name() string
	// MinBars is the shortest series the generator can evaluate; anything
	// shorter always yields types.None, never an error.
	MinBars() int
	Evaluate(series types.CandleSeries) types.Signal
}

// FromConfig builds the generator selected by cfg.Strategy.
func FromConfig(cfg config.Config) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyRSICross:
		return NewRSICross(cfg.RSIPeriod), nil
	case config.StrategyMADeviation:
		return NewMADeviation(cfg.MovingAveragePeriod, cfg.DeviationThreshold), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}
