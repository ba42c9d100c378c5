package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"omnipool/cmd/internal/passphrase"
	"omnipool/config"
	"omnipool/gateway"
	"omnipool/gateway/middleware"
	"omnipool/native/chains"
	"omnipool/native/lending"
	"omnipool/observability/logging"
	telemetry "omnipool/observability/otel"
	"omnipool/services/evm"
	"omnipool/services/guard"
	"omnipool/services/history"
	"omnipool/services/indexer"
	"omnipool/services/selection"
	"omnipool/services/txflow"
	"omnipool/services/wallet"
	"omnipool/storage"
)

const serviceName = "omnipoold"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "omnipool.yaml", "path to daemon configuration")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.LogLevel())}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}))
	}
	logger, logCloser := logging.Setup(serviceName, cfg.Environment, logOpts...)
	defer logCloser.Close()
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := chains.LoadOverlay(cfg.Registry)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTel(serviceName, registry))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	sel, err := selection.Open(registry, db, selection.WithLogger(logger))
	if err != nil {
		return err
	}

	rpcPool := evm.NewPool(cfg.RPCEndpoints())
	defer rpcPool.Close()

	keyJSON, err := os.ReadFile(cfg.Wallet.Keystore)
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}
	walletOpts := []wallet.LocalOption{wallet.WithLogger(logger)}
	if cfg.Wallet.InitialChain != 0 {
		walletOpts = append(walletOpts, wallet.WithInitialChain(chains.ChainID(cfg.Wallet.InitialChain)))
	}
	local, err := wallet.NewLocal(registry, keyJSON, passphrase.NewSource(cfg.Wallet.PassphraseEnv).Get,
		func(ctx context.Context, id chains.ChainID) (wallet.Backend, error) {
			client, err := rpcPool.Client(ctx, id)
			if err != nil {
				return nil, err
			}
			return client, nil
		}, walletOpts...)
	if err != nil {
		return err
	}
	if cfg.Wallet.AutoConnect {
		if _, err := local.Connect(ctx); err != nil {
			logger.Warn("wallet auto-connect failed", slog.String("error", err.Error()))
		}
	}

	caller, err := evm.NewClient(rpcPool.Backend, local,
		evm.WithPollInterval(cfg.TxFlow.PollInterval.Duration),
		evm.WithConfirmations(cfg.TxFlow.Confirmations),
		evm.WithGasHeadroom(cfg.TxFlow.GasHeadroomPct),
		evm.WithLogger(logger))
	if err != nil {
		return err
	}

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(cfg.DataDir, "history.db")
	}
	dsn, err := history.FileDSN(historyPath)
	if err != nil {
		return err
	}
	journal, err := history.Open(dsn)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer journal.Close()

	flowOpts := []txflow.Option{
		txflow.WithRecorder(journal),
		txflow.WithConfirmTimeout(cfg.TxFlow.ConfirmTimeout.Duration),
		txflow.WithLogger(logger),
	}
	if cfg.TxFlow.SimulatedRelay {
		flowOpts = append(flowOpts, txflow.WithRelay(txflow.NewSimulatedRelay(cfg.TxFlow.RelayDelay.Duration)))
	}
	actions, err := txflow.NewManager(caller, local, registry, flowOpts...)
	if err != nil {
		return err
	}

	gate := guard.New(local,
		guard.WithTarget(func() chains.ChainID { return sel.Current().ID }),
		guard.WithDebounce(cfg.Guard.Debounce.Duration),
		guard.WithLogger(logger))
	defer gate.Close()

	var pools indexer.Source
	if endpoints := cfg.IndexerEndpoints(); len(endpoints) > 0 {
		client := indexer.New(endpoints,
			indexer.WithHTTPClient(&http.Client{Timeout: cfg.Indexer.Timeout.Duration}),
			indexer.WithPageSize(cfg.Indexer.PageSize),
			indexer.WithLogger(logger))
		fallbackOpts := []indexer.FallbackOption{indexer.WithFallbackLogger(logger)}
		if cfg.Indexer.EstimateAPY {
			fallbackOpts = append(fallbackOpts, indexer.WithEstimates(lending.DefaultRateCurve, cfg.Indexer.ReserveFactorBps))
		}
		pools = indexer.NewFallback(client, fallbackOpts...)
	}

	gw, err := gateway.New(gateway.Deps{
		Registry:  registry,
		Selection: sel,
		Wallet:    local,
		Gate:      gate,
		Actions:   actions,
		Pools:     pools,
		History:   journal,
	}, gateway.Config{
		ServiceName: serviceName,
		RateLimit: middleware.RateLimit{
			RatePerSecond: cfg.Gateway.RateLimit,
			Burst:         cfg.Gateway.Burst,
		},
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Gateway.Auth.Enabled,
			HMACSecret: cfg.Gateway.Auth.Secret(),
			Issuer:     cfg.Gateway.Auth.Issuer,
			Audience:   cfg.Gateway.Auth.Audience,
			ClockSkew:  cfg.Gateway.Auth.ClockSkew.Duration,
		},
		AllowedOrigins:     cfg.Gateway.AllowedOrigins,
		LogRequests:        true,
		StreamWriteTimeout: cfg.Gateway.WriteTimeout.Duration,
	}, gateway.WithLogger(logger))
	if err != nil {
		return err
	}

	// No server-wide write timeout: action streams stay open indefinitely.
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           gw,
		ReadHeaderTimeout: cfg.Gateway.ReadTimeout.Duration,
		ReadTimeout:       cfg.Gateway.ReadTimeout.Duration,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Uint64("chain_id", uint64(sel.Current().ID)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pending submissions abandoned", slog.String("error", err.Error()))
	}
	return nil
}
