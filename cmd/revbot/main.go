package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"revbot/config"
	"revbot/engine"
	"revbot/exchange"
	"revbot/logger"
	"revbot/strategy"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Credentials may live in a local .env during development; a missing
	// file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics_server_failed", logger.Err(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics_listening", logger.String("addr", cfg.MetricsAddr))
	}

	strat, err := strategy.FromConfig(cfg)
	if err != nil {
		return err
	}

	var gw exchange.Gateway = exchange.NewBybit(cfg)
	if cfg.DryRun {
		gw = exchange.NewPaper(gw, cfg.NotionalPerTrade*float64(cfg.MaxOpenPositions))
		log.Info("dry_run_enabled")
	}

	eng := engine.New(cfg, gw, strat, log, engine.NewClock())
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("engine_stopped")
	return nil
}
