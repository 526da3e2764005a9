// Package engine runs the reconciliation loop: poll balance and positions,
// scan the symbol universe for fresh entries, close positions whose
// deviation has reverted, and keep brackets aligned with the moving
// average. Every decision re-derives its state from the gateway; nothing
// is carried across cycles except the configuration and the timestamp of
// the last bracket refresh.
package engine

import (
	"context"
	"errors"
	"time"

	"revbot/config"
	"revbot/exchange"
	"revbot/logger"
	"revbot/metrics"
	"revbot/risk"
	"revbot/strategy"
	"revbot/types"
)

// Engine is the execution controller. It is single threaded: a cycle
// completes fully before the next one starts.
type Engine struct {
	cfg   config.Config
	gw    exchange.Gateway
	strat strategy.Strategy
	log   logger.Logger
	clock Clock

	lastRefresh time.Time
}

// New wires the controller. The gateway and clock are injected so tests
// can substitute doubles.
func New(cfg config.Config, gw exchange.Gateway, strat strategy.Strategy, log logger.Logger, clock Clock) *Engine {
	return &Engine{
		cfg:         cfg,
		gw:          gw,
		strat:       strat,
		log:         log,
		clock:       clock,
		lastRefresh: clock.Now(),
	}
}

// Run executes reconciliation cycles until ctx is cancelled. No failure
// short of cancellation terminates the loop; a bad cycle is logged and
// the next one starts after the poll interval.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine_started",
		logger.String("strategy", e.strat.Name()),
		logger.Int("max_positions", e.cfg.MaxOpenPositions),
		logger.Float64("notional", e.cfg.NotionalPerTrade),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.runCycle(ctx)
		e.clock.Sleep(ctx, e.cfg.PollInterval())
	}
}

// runCycle is one full pass: health check, entry scan, position
// reconciliation, bracket refresh, telemetry.
func (e *Engine) runCycle(ctx context.Context) {
	metrics.Cycles.Inc()

	balance, err := e.gw.Balance(ctx, e.cfg.BalanceCoin)
	if err != nil {
		// API unavailability is transient; skip the whole cycle and back
		// off before retrying. No trading decision is made on a cycle
		// that cannot see the wallet.
		e.log.Warn("balance_unavailable", logger.Err(err))
		metrics.CycleErrors.WithLabelValues("balance").Inc()
		e.clock.Sleep(ctx, e.cfg.Backoff())
		return
	}
	metrics.WalletBalance.Set(balance)

	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Warn("positions_unavailable", logger.Err(err))
		metrics.CycleErrors.WithLabelValues("positions").Inc()
		return
	}
	metrics.OpenPositions.Set(float64(len(positions)))
	e.log.Info("cycle",
		logger.Float64("balance", balance),
		logger.Int("positions", len(positions)),
	)

	if len(positions) >= e.cfg.MaxOpenPositions {
		e.log.Info("position_cap_reached", logger.Int("count", len(positions)))
	} else {
		e.scanEntries(ctx)
	}

	e.reconcilePositions(ctx)

	if e.clock.Now().Sub(e.lastRefresh) >= e.cfg.BracketRefreshInterval() {
		e.refreshBrackets(ctx)
		e.lastRefresh = e.clock.Now()
	}

	e.reportPnL(ctx)
}

// scanEntries walks the ranked universe looking for signals. The open
// position set is re-fetched before every symbol so a burst of signals
// within one pass cannot overshoot the cap or double-enter a symbol.
func (e *Engine) scanEntries(ctx context.Context) {
	tickers, err := e.gw.Tickers(ctx)
	if err != nil {
		e.log.Warn("tickers_unavailable", logger.Err(err))
		metrics.CycleErrors.WithLabelValues("tickers").Inc()
		return
	}
	if n := e.cfg.TopSymbols; n > 0 && len(tickers) > n {
		tickers = tickers[:n]
	}

	for _, tk := range tickers {
		if ctx.Err() != nil {
			return
		}
		current, err := e.gw.Positions(ctx)
		if err != nil {
			e.log.Warn("positions_unavailable", logger.Err(err))
			metrics.CycleErrors.WithLabelValues("positions").Inc()
			return
		}
		if len(current) >= e.cfg.MaxOpenPositions {
			e.log.Info("position_cap_reached", logger.Int("count", len(current)))
			return
		}
		if _, held := current[tk.Symbol]; held {
			continue
		}
		e.tryEnter(ctx, tk.Symbol)
	}
}

// tryEnter evaluates one symbol and submits an entry if it signals.
// Failures are contained here so the scan continues with the next symbol.
func (e *Engine) tryEnter(ctx context.Context, symbol string) {
	series, err := e.gw.Klines(ctx, symbol, e.cfg.KlineLimit)
	if err != nil {
		e.log.Warn("klines_unavailable", logger.String("symbol", symbol), logger.Err(err))
		metrics.CycleErrors.WithLabelValues("klines").Inc()
		return
	}
	sig := e.strat.Evaluate(series)
	if sig == types.None {
		return
	}
	last, ok := series.Last()
	if !ok {
		return
	}
	e.log.Info("signal",
		logger.String("symbol", symbol),
		logger.String("signal", sig.String()),
		logger.Float64("close", last.Close),
	)

	prec, err := e.gw.Precision(ctx, symbol)
	if err != nil {
		e.log.Warn("precision_unavailable", logger.String("symbol", symbol), logger.Err(err))
		metrics.CycleErrors.WithLabelValues("precision").Inc()
		return
	}
	qty, err := risk.Qty(e.cfg.NotionalPerTrade, last.Close, prec.Qty)
	if err != nil {
		if errors.Is(err, risk.ErrQtyBelowLot) {
			e.log.Warn("qty_below_lot", logger.String("symbol", symbol), logger.Float64("price", last.Close))
		} else {
			e.log.Warn("sizing_failed", logger.String("symbol", symbol), logger.Err(err))
		}
		return
	}

	side := sig.Side()
	tp, sl := risk.Brackets(side, last.Close, e.anchor(series, last.Close), e.cfg.TakeProfitPct, e.cfg.StopLossPct, prec.Price)
	intent := types.OrderIntent{
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		Price:      last.Close,
		TakeProfit: tp,
		StopLoss:   sl,
		TriggerBy:  "LastPrice",
	}
	if _, err := e.gw.PlaceMarketOrder(ctx, intent); err != nil {
		e.log.Error("entry_rejected", logger.String("symbol", symbol), logger.Err(err))
		metrics.OrderFailures.WithLabelValues("entry").Inc()
		return
	}
	metrics.OrdersSubmitted.WithLabelValues("entry").Inc()
	e.log.Info("entry_submitted",
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.Float64("qty", qty),
		logger.Float64("tp", tp),
		logger.Float64("sl", sl),
	)
	e.clock.Sleep(ctx, e.cfg.OrderPause())
}

// anchor picks the take-profit reference: the live close, or the moving
// average when the variant re-anchors its target to the mean.
func (e *Engine) anchor(series types.CandleSeries, close float64) float64 {
	if e.cfg.TPAnchor != config.AnchorSMA {
		return close
	}
	md, ok := e.strat.(*strategy.MADeviation)
	if !ok {
		return close
	}
	if _, sma, ok := md.Deviation(series); ok {
		return sma
	}
	return close
}

// reconcilePositions closes every held position whose price has crossed
// back through the moving average on the side that triggered the entry.
// The crossover variant manages its exits through brackets alone.
func (e *Engine) reconcilePositions(ctx context.Context) {
	md, ok := e.strat.(*strategy.MADeviation)
	if !ok {
		return
	}
	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Warn("positions_unavailable", logger.Err(err))
		metrics.CycleErrors.WithLabelValues("positions").Inc()
		return
	}
	for symbol, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		series, err := e.gw.Klines(ctx, symbol, e.cfg.KlineLimit)
		if err != nil {
			e.log.Warn("klines_unavailable", logger.String("symbol", symbol), logger.Err(err))
			metrics.CycleErrors.WithLabelValues("klines").Inc()
			continue
		}
		_, sma, ok := md.Deviation(series)
		if !ok {
			continue
		}
		last, ok := series.Last()
		if !ok {
			continue
		}
		if !reverted(pos.Side, last.Close, sma) {
			continue
		}
		e.log.Info("reversion_detected",
			logger.String("symbol", symbol),
			logger.Float64("close", last.Close),
			logger.Float64("sma", sma),
		)
		e.closePosition(ctx, pos, last.Close)
	}
}

// reverted reports whether price has come back through the moving average
// against the entry: a short entered above the mean reverts once the
// close is at or below it, a long once the close is at or above it.
func reverted(side types.Side, close, sma float64) bool {
	if side == types.Sell {
		return close <= sma
	}
	return close >= sma
}

// closePosition flattens a position at market. The quantity is the live
// exchange-side size, not the original sizing notional, so the close
// neither under- nor overshoots.
func (e *Engine) closePosition(ctx context.Context, pos types.Position, refPrice float64) {
	intent := types.OrderIntent{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Qty:        pos.Size,
		Price:      refPrice,
		ReduceOnly: true,
	}
	if _, err := e.gw.PlaceMarketOrder(ctx, intent); err != nil {
		e.log.Error("close_rejected", logger.String("symbol", pos.Symbol), logger.Err(err))
		metrics.OrderFailures.WithLabelValues("close").Inc()
		return
	}
	metrics.OrdersSubmitted.WithLabelValues("close").Inc()
	e.log.Info("position_closed",
		logger.String("symbol", pos.Symbol),
		logger.String("side", string(intent.Side)),
		logger.Float64("qty", intent.Qty),
	)
	e.clock.Sleep(ctx, e.cfg.OrderPause())
}

// refreshBrackets re-anchors every held position's TP/SL to the current
// market via the venue's in-place amend, so a drifting moving average
// does not leave stale targets behind. The position itself is untouched.
func (e *Engine) refreshBrackets(ctx context.Context) {
	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Warn("positions_unavailable", logger.Err(err))
		metrics.CycleErrors.WithLabelValues("positions").Inc()
		return
	}
	for symbol, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		series, err := e.gw.Klines(ctx, symbol, e.cfg.KlineLimit)
		if err != nil {
			e.log.Warn("klines_unavailable", logger.String("symbol", symbol), logger.Err(err))
			metrics.CycleErrors.WithLabelValues("klines").Inc()
			continue
		}
		last, ok := series.Last()
		if !ok {
			continue
		}
		prec, err := e.gw.Precision(ctx, symbol)
		if err != nil {
			e.log.Warn("precision_unavailable", logger.String("symbol", symbol), logger.Err(err))
			metrics.CycleErrors.WithLabelValues("precision").Inc()
			continue
		}
		tp, sl := risk.Brackets(pos.Side, last.Close, e.anchor(series, last.Close), e.cfg.TakeProfitPct, e.cfg.StopLossPct, prec.Price)
		if err := e.gw.SetTradingStop(ctx, symbol, tp, sl); err != nil {
			e.log.Warn("bracket_refresh_failed", logger.String("symbol", symbol), logger.Err(err))
			metrics.OrderFailures.WithLabelValues("refresh").Inc()
			continue
		}
		metrics.OrdersSubmitted.WithLabelValues("refresh").Inc()
		e.log.Info("brackets_refreshed",
			logger.String("symbol", symbol),
			logger.Float64("tp", tp),
			logger.Float64("sl", sl),
		)
	}
}

// reportPnL aggregates realized PnL over the recent closed-trade window.
// Observational only; it never influences decisions.
func (e *Engine) reportPnL(ctx context.Context) {
	pnl, err := e.gw.ClosedPnL(ctx, e.cfg.PnLWindow)
	if err != nil {
		e.log.Warn("pnl_unavailable", logger.Err(err))
		return
	}
	metrics.ClosedPnL.Set(pnl)
	e.log.Info("closed_pnl", logger.Float64("pnl", pnl), logger.Int("window", e.cfg.PnLWindow))
}
