// Package metrics defines the Prometheus instruments shared by the processor
// and server binaries and serves the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ──────────────────────────────────────────────────────────────────────────────
// Instruments
// ──────────────────────────────────────────────────────────────────────────────

var (
	// Bet worker pool.
	WorkerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_errors_total",
		Help: "Bet worker cycle errors.",
	})
	WorkerCircuitBreakerOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_circuit_breaker_open_total",
		Help: "Cycles skipped because the circuit breaker was open.",
	})
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_processed_total",
		Help: "Bet batches fully processed.",
	})
	BatchChunkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_chunk_failures_total",
		Help: "Transaction chunks that failed submission.",
	})
	PendingBetsFetched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pending_bets_fetched",
		Help: "Bets claimed in the most recent worker cycle.",
	})
	BatchProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_processing_duration_seconds",
		Help:    "Wall time to process one claimed batch.",
		Buckets: prometheus.DefBuckets,
	})

	// Settlement path.
	SettlementDuplicateProcessing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_duplicate_processing_total",
		Help: "Settlements skipped because another worker won the version race.",
	})
	SettlementStatusUpdateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_status_update_failures_total",
		Help: "Failed settlement status updates against the external service.",
	})
	SettlementCompletionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_completion_retries_total",
		Help: "Retries of the critical SettlementComplete update.",
	})
	SettlementBatchesDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_batches_distributed_total",
		Help: "Batches handed to settlement workers by the coordinator.",
	})

	// Reconciliation.
	ReconciliationRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_recovered_total",
		Help: "Stuck bets resolved by the reconciler.",
	})
	ReconciliationRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_requeued_total",
		Help: "Stuck bets sent back to the retry path by the reconciler.",
	})
)

// ──────────────────────────────────────────────────────────────────────────────
// HTTP listener
// ──────────────────────────────────────────────────────────────────────────────

// Serve runs the /metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listener starting", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics.Serve: %w", err)
	}
	return nil
}
