package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/marko911/presale-pulse/internal/chain"
	"github.com/marko911/presale-pulse/internal/config"
	"github.com/marko911/presale-pulse/internal/ingest"
	"github.com/marko911/presale-pulse/internal/price"
	"github.com/marko911/presale-pulse/internal/purchase"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	rpcURL := flag.String("rpc", "", "HTTP RPC endpoint URL (pull channel)")
	wsURL := flag.String("ws", "", "WebSocket RPC endpoint URL (push channel)")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics and /healthz")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath, config.Overrides{
		RPCURL:      *rpcURL,
		WSURL:       *wsURL,
		MetricsAddr: *metricsAddr,
	})
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting presale purchase watcher",
		"chain", cfg.Chain,
		"chain_id", cfg.ChainID,
		"contract", cfg.Contract.Address,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("watcher exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("presale purchase watcher shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !common.IsHexAddress(cfg.Contract.Address) {
		return fmt.Errorf("invalid contract address %q", cfg.Contract.Address)
	}

	decoder, err := purchase.NewDecoder(cfg.Contract.BonusPercent)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	client, err := chain.Dial(ctx, chain.Options{
		RPC:      cfg.RPC,
		ChainID:  cfg.ChainID,
		Contract: common.HexToAddress(cfg.Contract.Address),
		Decoder:  decoder,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to chain: %w", err)
	}
	defer client.Close()

	prices, runPrices := price.NewSource(cfg.Price, logger)

	fanout, cleanup, err := buildFanout(ctx, cfg, prices, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher := ingest.NewWatcher(ingestConfig(cfg.Ingest), client, fanout, logger,
		ingest.WithFatalHandler(ingest.ExitAfter(cfg.Ingest.FatalGrace)),
	)

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newMux(watcher),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runPrices(gctx)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ingestConfig(c config.IngestConfig) ingest.Config {
	return ingest.Config{
		StartBlock:        c.StartBlock,
		PollGrace:         c.PollGrace,
		PollInterval:      c.PollInterval,
		ReconnectBase:     c.ReconnectBase,
		ReconnectMax:      c.ReconnectMax,
		LedgerCapacity:    c.LedgerCapacity,
		CatchUpMaxRange:   c.CatchUpMaxRange,
		HeartbeatInterval: c.HeartbeatInterval,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
