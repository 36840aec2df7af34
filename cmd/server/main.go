// Package main is the entry point for the settlement API server. It accepts
// bets into the Redis queue and serves the processor-facing claim and batch
// update endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/atomikwallet/settlement/internal/api"
	"github.com/atomikwallet/settlement/internal/audit"
	"github.com/atomikwallet/settlement/internal/config"
	"github.com/atomikwallet/settlement/internal/queue"
	"github.com/atomikwallet/settlement/internal/retry"
	"github.com/atomikwallet/settlement/internal/service"
)

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

	logger.Info("starting settlement api server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Redis queue ────────────────────────────────────────────────────────
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err = rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	cancelPing()
	logger.Info("redis connected")

	store := queue.NewStoreWithPolicy(rdb, retry.Policy{
		MaxRetries:  cfg.Bet.MaxRetries,
		BackoffBase: cfg.Bet.RetryBackoffBase,
		BackoffMax:  cfg.Bet.RetryBackoffMax,
	})

	// ── 3. Audit log (optional) ───────────────────────────────────────────────
	var (
		recorder audit.Recorder = audit.Nop{}
		auditDB  *sqlx.DB
	)
	if cfg.DB.DSN != "" {
		auditDB, err = sqlx.Connect("postgres", cfg.DB.DSN)
		if err != nil {
			logger.Error("audit database connection failed", "err", err)
			os.Exit(1)
		}
		auditDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		auditDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		auditDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

		if err = runMigrations(auditDB, "migrations"); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		recorder = audit.NewLog(auditDB)
		logger.Info("audit log enabled")
	} else {
		logger.Info("audit log disabled, AUDIT_DB_DSN not set")
	}

	// ── 4. Services & router ──────────────────────────────────────────────────
	betSvc := service.NewBetService(store, recorder, cfg)

	router := api.SetupRouter(api.RouterDeps{
		BetSvc: betSvc,
		Store:  store,
		Cfg:    cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 5. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 6. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 7. Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	rdb.Close()
	if auditDB != nil {
		auditDB.Close()
	}
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
