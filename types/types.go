package types

import "time"

// Side is the order direction in the exchange wire format.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Signal is the trade intent produced by one strategy evaluation. It has
// no persisted identity; it is recomputed from a fresh candle window on
// every poll.
type Signal int

const (
	None Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// Side converts a non-None signal into an order side.
func (s Signal) Side() Side {
	if s == SignalSell {
		return Sell
	}
	return Buy
}

// Candle is a single OHLCV bar.
type Candle struct {
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// CandleSeries is a bounded, strictly time-ascending window of candles.
// A series is fetched fresh for every evaluation and never cached across
// polls.
type CandleSeries []Candle

// Closes returns the close column, oldest first.
func (cs CandleSeries) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent candle; ok is false for an empty series.
func (cs CandleSeries) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// Ticker pairs a tradable symbol with its 24h volume, used to rank the
// scan universe.
type Ticker struct {
	Symbol    string
	Volume24h float64
}

// Position is the exchange-side position record. The engine keeps no
// shadow copy; every decision re-fetches it, so the exchange stays the
// single source of truth.
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	MarkPrice  float64
}

// Precision holds the decimal counts derived from an instrument's tick
// size and lot step. Every price and quantity sent to the exchange must
// already be rounded to these counts or the order is rejected.
type Precision struct {
	Price int
	Qty   int
}

// OrderIntent is a fully resolved market order with attached brackets.
// It is built and submitted within a single cycle and never persisted.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Qty        float64
	Price      float64 // reference price at decision time; market orders fill wherever the book is, paper fills use this
	TakeProfit float64
	StopLoss   float64
	TriggerBy  string // trigger basis for both brackets, e.g. "LastPrice"
	ReduceOnly bool
}
