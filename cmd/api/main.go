package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/bank"
	"github.com/pma-pay/pma_pay/internal/chain"
	"github.com/pma-pay/pma_pay/internal/config"
	"github.com/pma-pay/pma_pay/internal/infra"
	"github.com/pma-pay/pma_pay/internal/logging"
	"github.com/pma-pay/pma_pay/internal/notification"
	"github.com/pma-pay/pma_pay/internal/server"
	"github.com/pma-pay/pma_pay/internal/session"
	"github.com/pma-pay/pma_pay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var (
		db       *pgxpool.Pool
		cache    *redis.Client
		secureSt store.Store
	)

	switch cfg.StoreBackend {
	case config.StorePostgres:
		cipher, err := store.NewCipher(cfg.StoreSecret)
		if err != nil {
			logger.Error("build store cipher", "error", err)
			os.Exit(1)
		}
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := store.NewPostgresStore(db, cipher)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("ensure store schema", "error", err)
			os.Exit(1)
		}
		secureSt = pg
	case config.StoreRedis:
		cipher, err := store.NewCipher(cfg.StoreSecret)
		if err != nil {
			logger.Error("build store cipher", "error", err)
			os.Exit(1)
		}
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		secureSt = store.NewRedisStore(cache, cipher)
	default:
		logger.Warn("using in-memory secure store, wallets will not survive restarts")
		secureSt = store.NewMemoryStore()
	}

	var client chain.Client
	if cfg.EthRPCURL != "" {
		client = chain.NewEthereumClient(cfg.EthRPCURL, cfg.ChainID)
	} else {
		logger.Warn("ETH_RPC_URL not set, using simulated chain with demo balances")
		client = chain.NewSimClient(chain.WithDemoBalances(decimal.NewFromInt(1000)))
	}

	gateway := chain.NewGateway(client, logger)
	notifier := notification.NewLoggerNotifier(logger)

	sess := session.New(secureSt, gateway, bank.NewStaticProcessor(), notifier, logger)
	sess.ConfirmTimeout = cfg.ConfirmTimeout
	defer sess.Close()

	if err := sess.Restore(ctx); err != nil {
		logger.Warn("restore wallet session", "error", err)
	}

	srv, err := server.New(cfg, sess, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
