// Package main is the entry point for the settlement processor. It runs the
// bet worker fleet against the backend API, the settlement worker fleet
// against the settlements service, the batch coordinator, and the stuck-bet
// reconciler, with Prometheus metrics on a side port.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/atomikwallet/settlement/internal/chain"
	"github.com/atomikwallet/settlement/internal/config"
	"github.com/atomikwallet/settlement/internal/coordinator"
	"github.com/atomikwallet/settlement/internal/metrics"
	"github.com/atomikwallet/settlement/internal/queue"
	"github.com/atomikwallet/settlement/internal/reconcile"
	"github.com/atomikwallet/settlement/internal/retry"
	"github.com/atomikwallet/settlement/internal/settlements"
	"github.com/atomikwallet/settlement/internal/worker"
)

// rpcHealthInterval is how often the RPC pool re-probes its endpoints.
const rpcHealthInterval = 30 * time.Second

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting settlement processor",
		"env", cfg.Server.Env,
		"bet_workers", cfg.Processor.WorkerCount,
		"settlement_workers", cfg.Settlements.WorkerCount,
		"simulate", cfg.Solana.Simulate,
	)

	// ── 2. Solana gateway ─────────────────────────────────────────────────────
	var (
		signer    solana.PrivateKey
		programID solana.PublicKey
		err       error
	)
	if !cfg.Solana.Simulate {
		signer, err = solana.PrivateKeyFromSolanaKeygenFile(cfg.Processor.KeypairPath)
		if err != nil {
			logger.Error("failed to load processor keypair", "path", cfg.Processor.KeypairPath, "err", err)
			os.Exit(1)
		}
		programID, err = solana.PublicKeyFromBase58(cfg.Solana.VaultProgramID)
		if err != nil {
			logger.Error("invalid vault program id", "err", err)
			os.Exit(1)
		}
	}

	rpcPool := chain.NewPool(cfg.Solana.RPCURLs)
	gateway := chain.NewGateway(rpcPool, signer, programID, cfg.Solana.Simulate)
	gateway.SetCommitment(cfg.Solana.Commitment)

	// ── 3. Redis queue (reconciliation + recovery records) ────────────────────
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	store := queue.NewStoreWithPolicy(rdb, retry.Policy{
		MaxRetries:  cfg.Bet.MaxRetries,
		BackoffBase: cfg.Bet.RetryBackoffBase,
		BackoffMax:  cfg.Bet.RetryBackoffMax,
	})

	// ── 4. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Solana.Simulate {
		rpcPool.HealthCheckAll(ctx)
		go func() {
			ticker := time.NewTicker(rpcHealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					rpcPool.HealthCheckAll(ctx)
				}
			}
		}()
	}

	// ── 5. Bet workers ────────────────────────────────────────────────────────
	backend := worker.NewBackendClient(cfg.Processor.BackendURL, cfg.Processor.BackendAPIKey)

	betWorkers := make([]*worker.BetWorker, 0, cfg.Processor.WorkerCount)
	for i := 0; i < cfg.Processor.WorkerCount; i++ {
		betWorkers = append(betWorkers, worker.NewBetWorker(i, backend, gateway, worker.BetWorkerConfig{
			TickInterval: cfg.Processor.BatchInterval,
			ClaimLimit:   cfg.Processor.BatchSize,
			MaxBetsPerTx: cfg.Processor.MaxBetsPerTx,
		}))
	}

	// ── 6. Settlement workers ─────────────────────────────────────────────────
	var settlementWorkers []*worker.SettlementWorker
	var settlementsClient *settlements.Client
	if cfg.Settlements.BaseURL != "" && cfg.Settlements.WorkerCount > 0 {
		settlementsClient = settlements.NewClient(cfg.Settlements.BaseURL, cfg.Settlements.APIKey)
		for i := 0; i < cfg.Settlements.WorkerCount; i++ {
			settlementWorkers = append(settlementWorkers, worker.NewSettlementWorker(
				i, settlementsClient, gateway, store, worker.SettlementWorkerConfig{
					PollInterval: cfg.Settlements.PollInterval,
					BatchSize:    cfg.Settlements.BatchSize,
					WorkerCount:  cfg.Settlements.WorkerCount,
				}))
		}
	} else {
		logger.Info("settlement workers disabled", "base_url_set", cfg.Settlements.BaseURL != "")
	}

	coordinatorMode := cfg.Settlements.CoordinatorEnabled && len(settlementWorkers) > 0
	pool := worker.NewPool(betWorkers, settlementWorkers, coordinatorMode, cfg.Settlements.ChannelCapacity)

	// ── 7. Coordinator ────────────────────────────────────────────────────────
	if coordinatorMode {
		coord := coordinator.New(settlementsClient, pool.Channels(), coordinator.Config{
			PollInterval: cfg.Settlements.PollInterval,
			FetchLimit:   cfg.Settlements.BatchSize,
			BatchMinSize: cfg.Settlements.BatchMinSize,
			BatchMaxSize: cfg.Settlements.BatchMaxSize,
		})
		go coord.Run(ctx)
	}

	// ── 8. Reconciler ─────────────────────────────────────────────────────────
	reconciler := reconcile.New(store, gateway, reconcile.Config{
		SweepInterval: cfg.Processor.SweepInterval,
		MaxStuckTime:  cfg.Processor.MaxStuckTime,
		MaxRetries:    cfg.Bet.MaxRetries,
	})
	go reconciler.Run(ctx)

	// ── 9. Metrics ────────────────────────────────────────────────────────────
	go func() {
		if err := metrics.Serve(ctx, cfg.Processor.MetricsPort); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()

	// ── 10. Run until shutdown ────────────────────────────────────────────────
	pool.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, waiting for workers to drain…")
	pool.Wait()
	logger.Info("processor stopped cleanly")
}
