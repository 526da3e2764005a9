// Package config exposes the process-wide configuration: strategy
// parameters, execution cadence, and venue connectivity. Values are fixed
// for the lifetime of the run; there is no hot-reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selectors recognized in the config file.
const (
	StrategyRSICross    = "rsi_cross"
	StrategyMADeviation = "ma_deviation"
)

// Take-profit anchor modes. AnchorSMA prices the target off the moving
// average while the stop loss stays on the live price; the asymmetry
// protects a mean-reversion trade that never reverts.
const (
	AnchorPrice = "price"
	AnchorSMA   = "sma"
)

// Config holds all tunable parameters for a run.
type Config struct {
	// Strategy selection and thresholds.
	Strategy            string  `yaml:"strategy"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	StopLossPct         float64 `yaml:"stop_loss_pct"`
	DeviationThreshold  float64 `yaml:"deviation_threshold"`
	TPAnchor            string  `yaml:"tp_anchor"`
	MovingAveragePeriod int     `yaml:"moving_average_period"`
	RSIPeriod           int     `yaml:"rsi_period"`

	// Market universe.
	Timeframe   string `yaml:"timeframe"` // venue kline interval: "15", "60", "D", ...
	QuoteCoin   string `yaml:"quote_coin"`
	ExcludeCoin string `yaml:"exclude_coin"` // stable-settled variant filtered from the universe
	SettleCoin  string `yaml:"settle_coin"`
	BalanceCoin string `yaml:"balance_coin"`
	TopSymbols  int    `yaml:"top_symbols"` // 0 = whole universe
	KlineLimit  int    `yaml:"kline_limit"`

	// Execution limits and cadence (waits in whole seconds).
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	NotionalPerTrade  float64 `yaml:"notional_per_trade"`
	PnLWindow         int     `yaml:"pnl_window"`
	PollIntervalSec   int     `yaml:"poll_interval_seconds"`
	OrderPauseSec     int     `yaml:"order_pause_seconds"`
	BackoffSec        int     `yaml:"backoff_seconds"`
	BracketRefreshSec int     `yaml:"bracket_refresh_interval_seconds"`

	// Process wiring.
	Demo        bool   `yaml:"demo"`
	DryRun      bool   `yaml:"dry_run"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Credentials come from the environment, never from the file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Default returns the moving-average deviation setup the bot ships with.
func Default() Config {
	return Config{
		Strategy:            StrategyMADeviation,
		TakeProfitPct:       0.02,
		StopLossPct:         0.0325,
		DeviationThreshold:  0.03,
		TPAnchor:            AnchorSMA,
		MovingAveragePeriod: 90,
		RSIPeriod:           14,
		Timeframe:           "60",
		QuoteCoin:           "USDT",
		ExcludeCoin:         "USDC",
		SettleCoin:          "USDT",
		BalanceCoin:         "USDT",
		TopSymbols:          30,
		KlineLimit:          500,
		MaxOpenPositions:    30,
		NotionalPerTrade:    500,
		PnLWindow:           50,
		PollIntervalSec:     30,
		OrderPauseSec:       5,
		BackoffSec:          300,
		BracketRefreshSec:   15 * 60,
		Demo:                true,
		MetricsAddr:         ":9090",
	}
}

// Load reads a YAML file over the defaults and overlays credentials from
// the BYBIT_API_KEY / BYBIT_API_SECRET environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.APIKey = os.Getenv("BYBIT_API_KEY")
	cfg.APISecret = os.Getenv("BYBIT_API_SECRET")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that all fields are within sensible bounds. It returns
// the first encountered error so the caller can surface a clear
// configuration problem before any trading starts.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyRSICross, StrategyMADeviation:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	switch c.TPAnchor {
	case AnchorPrice, AnchorSMA:
	default:
		return fmt.Errorf("unknown tp_anchor %q", c.TPAnchor)
	}
	if c.TakeProfitPct <= 0 || c.TakeProfitPct >= 1 {
		return fmt.Errorf("take_profit_pct (%v) must be in (0, 1)", c.TakeProfitPct)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct (%v) must be in (0, 1)", c.StopLossPct)
	}
	if c.Strategy == StrategyMADeviation {
		if c.DeviationThreshold <= 0 || c.DeviationThreshold >= 1 {
			return fmt.Errorf("deviation_threshold (%v) must be in (0, 1)", c.DeviationThreshold)
		}
		if c.MovingAveragePeriod <= 1 {
			return errors.New("moving_average_period must be greater than 1")
		}
	}
	if c.Strategy == StrategyRSICross && c.RSIPeriod <= 1 {
		return errors.New("rsi_period must be greater than 1")
	}
	if c.Timeframe == "" {
		return errors.New("timeframe must be set")
	}
	if c.QuoteCoin == "" || c.SettleCoin == "" || c.BalanceCoin == "" {
		return errors.New("quote_coin, settle_coin and balance_coin must be set")
	}
	if c.KlineLimit <= 0 {
		return errors.New("kline_limit must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		return errors.New("max_open_positions must be positive")
	}
	if c.NotionalPerTrade <= 0 {
		return errors.New("notional_per_trade must be positive")
	}
	if c.TopSymbols < 0 {
		return errors.New("top_symbols cannot be negative")
	}
	if c.PnLWindow <= 0 {
		return errors.New("pnl_window must be positive")
	}
	if c.PollIntervalSec <= 0 || c.BackoffSec <= 0 || c.BracketRefreshSec <= 0 {
		return errors.New("poll, backoff and bracket refresh intervals must be positive")
	}
	if c.OrderPauseSec < 0 {
		return errors.New("order_pause_seconds cannot be negative")
	}
	return nil
}

// PollInterval is the wait between reconciliation cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// OrderPause is the courtesy delay after each order submission.
func (c *Config) OrderPause() time.Duration {
	return time.Duration(c.OrderPauseSec) * time.Second
}

// Backoff is the long wait after a failed balance fetch.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.BackoffSec) * time.Second
}

// BracketRefreshInterval is the coarser cadence at which brackets of held
// positions are re-issued.
func (c *Config) BracketRefreshInterval() time.Duration {
	return time.Duration(c.BracketRefreshSec) * time.Second
}
