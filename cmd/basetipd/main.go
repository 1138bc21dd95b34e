package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basetip/cache"
	"basetip/chain"
	"basetip/config"
	"basetip/donor"
	"basetip/gateway"
	"basetip/gateway/middleware"
	"basetip/observability"
	"basetip/observability/logging"
	"basetip/observability/otel"
	"basetip/slugindex"
	syncsvc "basetip/sync"
)

const shutdownGrace = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to basetipd config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup("basetipd", "").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("basetipd", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if otelCfg := otel.FromEnv("basetipd", cfg.Environment); otelCfg.Enabled() {
		shutdown, err := otel.Init(ctx, otelCfg)
		if err != nil {
			logger.Error("telemetry init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	store, err := cache.Open(cfg.DatabasePath(), cache.WithLogger(logger))
	if err != nil {
		logger.Error("open cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	metrics := observability.Sync()
	if removed := store.SweepExpired(ctx); removed > 0 {
		metrics.SweepRemoved(removed)
		logger.Info("swept expired cache rows", "removed", removed)
	}

	index := slugindex.Load(cfg.SlugIndexPath(), logger)
	referrals := donor.LoadReferrals(cfg.ReferralPath(), logger)

	client, err := chain.Dial(ctx, cfg.Chain.RPCEndpoint)
	if err != nil {
		logger.Error("dial rpc endpoint", "endpoint", cfg.Chain.RPCEndpoint, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	contract := common.HexToAddress(cfg.Chain.Contract)
	fetcherOpts := []chain.FetcherOption{chain.WithFetcherLogger(logger)}
	if cfg.Chain.Multicall != "" {
		fetcherOpts = append(fetcherOpts, chain.WithMulticall(common.HexToAddress(cfg.Chain.Multicall)))
	}
	if cfg.Chain.ScanWindow > 0 {
		fetcherOpts = append(fetcherOpts, chain.WithScanWindow(cfg.Chain.ScanWindow))
	}
	fetcher := chain.NewFetcher(client, contract, fetcherOpts...)

	service := syncsvc.NewService(store, index, fetcher,
		syncsvc.WithServiceLogger(logger),
		syncsvc.WithRefreshInterval(cfg.RefreshInterval.Duration),
	)

	if err := service.Backfill(ctx); err != nil {
		logger.Warn("registration backfill failed", "error", err)
	}

	if cfg.Chain.WSEndpoint != "" {
		wsClient, err := chain.Dial(ctx, cfg.Chain.WSEndpoint)
		if err != nil {
			logger.Warn("dial ws endpoint, live updates disabled", "endpoint", cfg.Chain.WSEndpoint, "error", err)
		} else {
			defer wsClient.Close()
			watcher := chain.NewWatcher(wsClient, contract, fetcher.FetchCreator, service.HandleRegistration, logger)
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("start registration watcher", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	go service.Run(ctx)

	handler := gateway.New(gateway.Config{
		Reads:     service,
		Tips:      fetcher,
		Referrals: referrals,
		PublicURL: cfg.Gateway.PublicURL,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			Burst:             cfg.Gateway.Burst,
		},
		CORS:    middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		Logger:  logger,
		Metrics: observability.Gateway(),
	})

	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway serve failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown failed", "error", err)
	}
}
