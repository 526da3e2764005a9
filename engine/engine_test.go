package engine

import (
	"context"
	"testing"
	"time"

	"revbot/config"
	"revbot/exchange"
	"revbot/strategy"
	"revbot/testutils"
	"revbot/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MovingAveragePeriod = 5
	cfg.KlineLimit = 10
	cfg.TopSymbols = 0
	cfg.OrderPauseSec = 5
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, gw *testutils.MockGateway) (*Engine, *testutils.FakeClock) {
	t.Helper()
	strat, err := strategy.FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	clock := testutils.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(cfg, gw, strat, testutils.NewMockLogger(), clock), clock
}

// sellSeries averages exactly 100 over the last five bars with the
// latest close at 104: a 4% upside excursion that signals a short.
func sellSeries() types.CandleSeries {
	return testutils.Series(100, 100, 98, 99, 99, 104)
}

// flatSeries stays inside the deviation band.
func flatSeries() types.CandleSeries {
	return testutils.Series(100, 100, 99, 100, 99, 101)
}

func positions(ps ...types.Position) func() (map[string]types.Position, error) {
	return func() (map[string]types.Position, error) {
		out := make(map[string]types.Position, len(ps))
		for _, p := range ps {
			out[p.Symbol] = p
		}
		return out, nil
	}
}

func TestCycleEntersOnSignal(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{{Symbol: "SOLUSDT", Volume24h: 1e6}}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	o := orders[0]
	if o.Symbol != "SOLUSDT" || o.Side != types.Sell || o.ReduceOnly {
		t.Fatalf("unexpected order %+v", o)
	}
	// 500 notional at 104 rounds to 4.81 at two decimals.
	if o.Qty != 4.81 {
		t.Fatalf("qty = %v, want 4.81", o.Qty)
	}
	// TP anchors to the moving average, SL to the live price.
	if o.TakeProfit != 98 {
		t.Fatalf("tp = %v, want 98", o.TakeProfit)
	}
	if o.StopLoss != 107.38 {
		t.Fatalf("sl = %v, want 107.38", o.StopLoss)
	}
}

func TestCycleNeverReentersHeldSymbol(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(types.Position{Symbol: "BTCUSDT", Side: types.Sell, Size: 2})
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{
			{Symbol: "BTCUSDT", Volume24h: 2e6},
			{Symbol: "ETHUSDT", Volume24h: 1e6},
		}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	for _, o := range gw.Orders() {
		if o.Symbol == "BTCUSDT" && !o.ReduceOnly {
			t.Fatalf("submitted a fresh entry for a held symbol: %+v", o)
		}
	}
	entries := 0
	for _, o := range gw.Orders() {
		if !o.ReduceOnly {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("expected one entry (ETHUSDT only), got %d", entries)
	}
}

func TestCycleSkipsScanAtPositionCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOpenPositions = 2
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(
		types.Position{Symbol: "BTCUSDT", Side: types.Sell, Size: 1},
		types.Position{Symbol: "ETHUSDT", Side: types.Sell, Size: 1},
	)
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return flatSeries(), nil }

	eng, _ := newTestEngine(t, cfg, gw)
	eng.runCycle(context.Background())

	if gw.TickersCalls() != 0 {
		t.Fatal("scan ran despite the position cap")
	}
	if len(gw.Orders()) != 0 {
		t.Fatalf("expected no orders, got %d", len(gw.Orders()))
	}
}

func TestCapRecheckedMidScan(t *testing.T) {
	// The cap is one position. The first symbol signals and fills; the
	// re-check before the second symbol must stop the scan.
	cfg := testConfig()
	cfg.MaxOpenPositions = 1
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{
			{Symbol: "BTCUSDT", Volume24h: 2e6},
			{Symbol: "ETHUSDT", Volume24h: 1e6},
		}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	var held []types.Position
	gw.PositionsFn = func() (map[string]types.Position, error) {
		out := make(map[string]types.Position)
		for _, p := range held {
			out[p.Symbol] = p
		}
		return out, nil
	}
	gw.PlaceFn = func(intent types.OrderIntent) (string, error) {
		if !intent.ReduceOnly {
			held = append(held, types.Position{Symbol: intent.Symbol, Side: intent.Side, Size: intent.Qty})
		}
		return "ok", nil
	}

	eng, _ := newTestEngine(t, cfg, gw)
	eng.runCycle(context.Background())

	entries := 0
	for _, o := range gw.Orders() {
		if !o.ReduceOnly {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("cap overshot mid-scan: %d entries", entries)
	}
}

func TestScanContinuesPastFailingSymbol(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{
			{Symbol: "BTCUSDT", Volume24h: 2e6},
			{Symbol: "ETHUSDT", Volume24h: 1e6},
		}, nil
	}
	// The first symbol's candles are unavailable; the scan must still
	// reach the second.
	gw.KlinesFn = func(symbol string, _ int) (types.CandleSeries, error) {
		if symbol == "BTCUSDT" {
			return nil, exchange.ErrUnavailable
		}
		return sellSeries(), nil
	}

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if orders[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected the entry for ETHUSDT, got %+v", orders[0])
	}
}

func TestRejectedEntryAbandonedForCycle(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{{Symbol: "SOLUSDT", Volume24h: 1e6}}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }
	gw.PlaceFn = func(types.OrderIntent) (string, error) {
		return "", &exchange.APIError{Code: 110007, Msg: "insufficient available balance"}
	}

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	// The rejection is logged and the attempt abandoned: exactly one
	// submission, no retry within the cycle.
	if got := len(gw.Orders()); got != 1 {
		t.Fatalf("expected a single submission attempt, got %d", got)
	}
}

func TestBalanceFailureSkipsCycleAndBacksOff(t *testing.T) {
	cfg := testConfig()
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 0, exchange.ErrUnavailable }
	gw.TickersFn = func() ([]types.Ticker, error) {
		t.Error("scan must not run when the balance is unavailable")
		return nil, nil
	}

	eng, clock := newTestEngine(t, cfg, gw)
	eng.runCycle(context.Background())
	eng.runCycle(context.Background())

	if len(gw.Orders()) != 0 {
		t.Fatalf("expected zero submissions, got %d", len(gw.Orders()))
	}
	if gw.BalanceCalls() != 2 {
		t.Fatalf("expected the loop to keep polling, got %d balance calls", gw.BalanceCalls())
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != cfg.Backoff() || sleeps[1] != cfg.Backoff() {
		t.Fatalf("expected two backoff sleeps of %v, got %v", cfg.Backoff(), sleeps)
	}
}

func TestReconcileClosesRevertedShort(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(types.Position{Symbol: "ETHUSDT", Side: types.Sell, Size: 3.5, EntryPrice: 104})
	gw.TickersFn = func() ([]types.Ticker, error) { return nil, nil }
	// Close 98 sits below the 99.6 average: the short has reverted.
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) {
		return testutils.Series(100, 100, 101, 99, 100, 98), nil
	}

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one close order, got %d", len(orders))
	}
	o := orders[0]
	if !o.ReduceOnly || o.Side != types.Buy {
		t.Fatalf("expected reduce-only Buy, got %+v", o)
	}
	// Quantity is the live exchange-side size, not the sizing notional.
	if o.Qty != 3.5 {
		t.Fatalf("qty = %v, want 3.5", o.Qty)
	}
}

func TestReconcileClosesRevertedLong(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(types.Position{Symbol: "ETHUSDT", Side: types.Buy, Size: 1.2, EntryPrice: 96})
	gw.TickersFn = func() ([]types.Ticker, error) { return nil, nil }
	// Close 102 sits above the 100.4 average: the long has reverted.
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) {
		return testutils.Series(100, 100, 99, 101, 100, 102), nil
	}

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one close order, got %d", len(orders))
	}
	o := orders[0]
	if !o.ReduceOnly || o.Side != types.Sell || o.Qty != 1.2 {
		t.Fatalf("unexpected close order %+v", o)
	}
}

func TestReconcileLeavesUnrevertedPositionAlone(t *testing.T) {
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(types.Position{Symbol: "BTCUSDT", Side: types.Sell, Size: 1})
	gw.TickersFn = func() ([]types.Ticker, error) { return nil, nil }
	// Still 4% above the average: the short stays on.
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	eng, _ := newTestEngine(t, testConfig(), gw)
	eng.runCycle(context.Background())

	if len(gw.Orders()) != 0 {
		t.Fatalf("expected no orders, got %+v", gw.Orders())
	}
}

func TestBracketRefreshAmendsInPlace(t *testing.T) {
	cfg := testConfig()
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.PositionsFn = positions(types.Position{Symbol: "BTCUSDT", Side: types.Sell, Size: 1})
	gw.TickersFn = func() ([]types.Ticker, error) { return nil, nil }
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	eng, clock := newTestEngine(t, cfg, gw)

	eng.runCycle(context.Background())
	if len(gw.Stops()) != 0 {
		t.Fatal("bracket refresh fired before its interval elapsed")
	}

	clock.Advance(cfg.BracketRefreshInterval() + time.Second)
	eng.runCycle(context.Background())

	stops := gw.Stops()
	if len(stops) != 1 {
		t.Fatalf("expected one bracket amendment, got %d", len(stops))
	}
	s := stops[0]
	if s.Symbol != "BTCUSDT" || s.TP != 98 || s.SL != 107.38 {
		t.Fatalf("unexpected amendment %+v", s)
	}
	// A refresh is an amend, never a close.
	if len(gw.Orders()) != 0 {
		t.Fatalf("refresh submitted orders: %+v", gw.Orders())
	}
}

func TestRSIVariantUsesPriceAnchoredBrackets(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = config.StrategyRSICross
	cfg.TPAnchor = config.AnchorPrice
	cfg.TakeProfitPct = 0.02
	cfg.StopLossPct = 0.01

	closes := []float64{}
	for i := 0; i < 16; i++ {
		closes = append(closes, float64(100+i))
	}
	for k := 1; k <= 14; k++ {
		closes = append(closes, 115-3*float64(k))
	}
	closes = append(closes, closes[len(closes)-1]+20) // final close 93

	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{{Symbol: "XRPUSDT", Volume24h: 1e6}}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) {
		return testutils.Series(closes...), nil
	}

	eng, _ := newTestEngine(t, cfg, gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	o := orders[0]
	if o.Side != types.Buy {
		t.Fatalf("expected Buy on oversold exit, got %+v", o)
	}
	if o.TakeProfit != 94.86 || o.StopLoss != 92.07 {
		t.Fatalf("brackets = %v/%v, want 94.86/92.07", o.TakeProfit, o.StopLoss)
	}
}

func TestTopSymbolsCapsTheScan(t *testing.T) {
	cfg := testConfig()
	cfg.TopSymbols = 1
	gw := testutils.NewMockGateway()
	gw.BalanceFn = func(string) (float64, error) { return 1000, nil }
	gw.TickersFn = func() ([]types.Ticker, error) {
		return []types.Ticker{
			{Symbol: "BTCUSDT", Volume24h: 2e6},
			{Symbol: "ETHUSDT", Volume24h: 1e6},
		}, nil
	}
	gw.KlinesFn = func(string, int) (types.CandleSeries, error) { return sellSeries(), nil }

	eng, _ := newTestEngine(t, cfg, gw)
	eng.runCycle(context.Background())

	orders := gw.Orders()
	if len(orders) != 1 || orders[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected a single entry for the top symbol, got %+v", orders)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	gw := testutils.NewMockGateway()
	eng, _ := newTestEngine(t, testConfig(), gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if gw.BalanceCalls() != 0 {
		t.Fatal("cycle ran after cancellation")
	}
}
