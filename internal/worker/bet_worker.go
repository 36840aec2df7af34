package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/breaker"
	"github.com/atomikwallet/settlement/internal/chain"
	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/metrics"
)

// betBackend is the slice of BackendClient the bet worker uses.
type betBackend interface {
	ClaimPending(ctx context.Context, limit int, processorID string) (domain.PendingBetsResponse, error)
	UpdateBatch(ctx context.Context, batchID uuid.UUID, update domain.UpdateBatchRequest) (domain.UpdateBatchResponse, error)
}

// betGateway is the slice of chain.Gateway the bet worker uses.
type betGateway interface {
	SubmitBetBatch(ctx context.Context, bets []domain.Bet, maxBetsPerTx int) (string, []chain.BetOutcome, error)
}

// BetWorkerConfig controls one bet worker.
type BetWorkerConfig struct {
	TickInterval time.Duration
	ClaimLimit   int // bets claimed per cycle
	MaxBetsPerTx int // chunking bound for one Solana transaction
}

// BetWorker claims pending bets from the backend on a fixed tick, settles
// them on-chain in transaction-sized chunks, and reports per-bet results
// back. A chunk failure aborts the remaining chunks; the backend requeues
// them for a later cycle.
type BetWorker struct {
	id      int
	backend betBackend
	gateway betGateway
	breaker *breaker.Breaker
	cfg     BetWorkerConfig
}

// NewBetWorker constructs a bet worker with its own circuit breaker.
func NewBetWorker(id int, backend betBackend, gateway betGateway, cfg BetWorkerConfig) *BetWorker {
	if cfg.MaxBetsPerTx < 1 {
		cfg.MaxBetsPerTx = 1
	}
	return &BetWorker{
		id:      id,
		backend: backend,
		gateway: gateway,
		breaker: breaker.New(breaker.DefaultFailureThreshold, breaker.DefaultResetTimeout),
		cfg:     cfg,
	}
}

// ProcessorID identifies this worker in claim requests and bet records.
func (w *BetWorker) ProcessorID() string {
	return fmt.Sprintf("worker-%d", w.id)
}

// Run executes claim cycles until ctx is cancelled.
func (w *BetWorker) Run(ctx context.Context) {
	slog.Info("bet worker starting",
		"worker_id", w.id,
		"tick_interval", w.cfg.TickInterval,
		"claim_limit", w.cfg.ClaimLimit,
		"max_bets_per_tx", w.cfg.MaxBetsPerTx,
	)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("bet worker stopping", "worker_id", w.id)
			return
		case <-ticker.C:
		}

		err := w.breaker.Call(func() error {
			return w.processCycle(ctx)
		})
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrCircuitOpen):
			slog.Warn("circuit breaker open, skipping cycle", "worker_id", w.id)
			metrics.WorkerCircuitBreakerOpen.Inc()
		default:
			slog.Error("bet cycle failed", "worker_id", w.id, "error", err)
			metrics.WorkerErrors.Inc()
		}
	}
}

// processCycle claims one batch and settles it chunk by chunk. Each chunk is
// one Solana transaction followed by two backend updates: submitted with the
// signature, then confirmed with the final outcomes.
func (w *BetWorker) processCycle(ctx context.Context) error {
	start := time.Now()

	resp, err := w.backend.ClaimPending(ctx, w.cfg.ClaimLimit, w.ProcessorID())
	if err != nil {
		return fmt.Errorf("claim pending bets: %w", err)
	}
	if len(resp.Bets) == 0 {
		return nil
	}

	slog.Info("processing claimed batch",
		"worker_id", w.id,
		"batch_id", resp.BatchID,
		"bet_count", len(resp.Bets),
	)
	metrics.PendingBetsFetched.Set(float64(len(resp.Bets)))

	for chunkIdx, chunk := range chunkBets(resp.Bets, w.cfg.MaxBetsPerTx) {
		if err := w.processChunk(ctx, resp.BatchID, chunk); err != nil {
			slog.Error("batch chunk failed",
				"worker_id", w.id,
				"batch_id", resp.BatchID,
				"chunk", chunkIdx,
				"error", err,
			)
			metrics.BatchChunkFailures.Inc()
			// Remaining chunks stay batched and are re-claimed after the
			// backend's stuck-bet recovery kicks in.
			return err
		}
	}

	elapsed := time.Since(start)
	slog.Info("batch completed",
		"worker_id", w.id,
		"batch_id", resp.BatchID,
		"bet_count", len(resp.Bets),
		"duration", elapsed,
	)
	metrics.BatchProcessingDuration.Observe(elapsed.Seconds())
	metrics.BatchesProcessed.Inc()
	return nil
}

func (w *BetWorker) processChunk(ctx context.Context, batchID uuid.UUID, chunk []domain.Bet) error {
	sig, outcomes, err := w.gateway.SubmitBetBatch(ctx, chunk, w.cfg.MaxBetsPerTx)
	if err != nil {
		w.reportChunkFailure(ctx, batchID, chunk, err)
		return err
	}

	// Phase one: the transaction is in flight under sig.
	submitted := make([]domain.BetResult, 0, len(chunk))
	for _, bet := range chunk {
		submitted = append(submitted, domain.BetResult{
			BetID:      bet.ID,
			Status:     domain.BetStatusSubmittedToSolana,
			SolanaTxID: &sig,
		})
	}
	if _, err := w.backend.UpdateBatch(ctx, batchID, domain.UpdateBatchRequest{
		Status:     domain.BatchStatusSubmitted,
		SolanaTxID: &sig,
		BetResults: submitted,
	}); err != nil {
		return fmt.Errorf("report chunk submitted: %w", err)
	}

	// Phase two: outcomes are final, bets complete.
	completed := make([]domain.BetResult, 0, len(outcomes))
	for _, o := range outcomes {
		o := o
		completed = append(completed, domain.BetResult{
			BetID:        o.BetID,
			Status:       domain.BetStatusCompleted,
			SolanaTxID:   &sig,
			Won:          &o.Won,
			PayoutAmount: &o.Payout,
		})
	}
	if _, err := w.backend.UpdateBatch(ctx, batchID, domain.UpdateBatchRequest{
		Status:     domain.BatchStatusConfirmed,
		SolanaTxID: &sig,
		BetResults: completed,
	}); err != nil {
		return fmt.Errorf("report chunk confirmed: %w", err)
	}

	slog.Debug("chunk confirmed", "worker_id", w.id, "signature", sig, "bets", len(chunk))
	return nil
}

// reportChunkFailure marks a failed chunk retryable. Best effort: the
// backend's reconciler catches bets this update misses.
func (w *BetWorker) reportChunkFailure(ctx context.Context, batchID uuid.UUID, chunk []domain.Bet, cause error) {
	msg := cause.Error()
	results := make([]domain.BetResult, 0, len(chunk))
	for _, bet := range chunk {
		results = append(results, domain.BetResult{
			BetID:        bet.ID,
			Status:       domain.BetStatusFailedRetryable,
			ErrorMessage: &msg,
		})
	}
	if _, err := w.backend.UpdateBatch(ctx, batchID, domain.UpdateBatchRequest{
		Status:       domain.BatchStatusFailed,
		ErrorMessage: &msg,
		BetResults:   results,
	}); err != nil {
		slog.Error("failed to report chunk failure",
			"worker_id", w.id, "batch_id", batchID, "error", err)
	}
}

// chunkBets splits bets into slices of at most size, preserving order.
func chunkBets(bets []domain.Bet, size int) [][]domain.Bet {
	if size < 1 {
		size = 1
	}
	var chunks [][]domain.Bet
	for len(bets) > size {
		chunks = append(chunks, bets[:size])
		bets = bets[size:]
	}
	if len(bets) > 0 {
		chunks = append(chunks, bets)
	}
	return chunks
}
