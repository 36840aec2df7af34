package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/metrics"
	"github.com/atomikwallet/settlement/internal/settlements"
)

// settlementClient is the slice of settlements.Client the worker uses.
type settlementClient interface {
	FetchPending(ctx context.Context, limit int) ([]domain.Settlement, error)
	UpdateStatus(ctx context.Context, txID uint64, req settlements.UpdateRequest) (uint64, error)
}

// settlementGateway is the slice of chain.Gateway the worker uses.
type settlementGateway interface {
	SubmitPayout(ctx context.Context, s domain.Settlement) (string, error)
	SubmitSpend(ctx context.Context, s domain.Settlement) (string, error)
}

// recoveryRecorder durably records a settled-but-unreported settlement so an
// operator can reconcile it by hand.
type recoveryRecorder interface {
	RecordSettlementRecovery(ctx context.Context, txID uint64, signature string) error
}

const (
	// A settlement gets settlementMaxRetries on-chain attempts before it is
	// parked as SettlementFailedPermanent.
	settlementMaxRetries = 3
	// Retry n becomes eligible n*settlementRetryStep after the failure.
	settlementRetryStep = 5 * time.Second

	completionBackoffStart = time.Second
	completionBackoffMax   = 60 * time.Second

	// DefaultCompletionDeadline bounds the otherwise unbounded retry of the
	// SettlementComplete update. Past it the signature goes to the recovery
	// record instead.
	DefaultCompletionDeadline = 10 * time.Minute
)

// SettlementWorkerConfig controls one settlement worker.
type SettlementWorkerConfig struct {
	PollInterval       time.Duration // legacy polling mode only
	BatchSize          int           // total fetch size shared across the fleet
	WorkerCount        int           // fleet size, for the per-worker fetch share
	CompletionDeadline time.Duration
}

// SettlementWorker drives settlements through the vault program. A
// settlement moves SubmittedToSolana → on-chain transaction →
// SettlementComplete; the version carried in each update makes concurrent
// workers safe. Once a transaction lands on-chain the completion update is
// retried until it sticks, because money has already moved.
type SettlementWorker struct {
	id       int
	client   settlementClient
	gateway  settlementGateway
	recovery recoveryRecorder
	cfg      SettlementWorkerConfig

	now   func() time.Time                           // stubbed in tests
	sleep func(ctx context.Context, d time.Duration) // stubbed in tests
}

// NewSettlementWorker constructs a settlement worker. recovery may be nil
// when no recovery store is configured.
func NewSettlementWorker(id int, client settlementClient, gateway settlementGateway, recovery recoveryRecorder, cfg SettlementWorkerConfig) *SettlementWorker {
	if cfg.CompletionDeadline <= 0 {
		cfg.CompletionDeadline = DefaultCompletionDeadline
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &SettlementWorker{
		id:       id,
		client:   client,
		gateway:  gateway,
		recovery: recovery,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run modes
// ──────────────────────────────────────────────────────────────────────────────

// RunChannel consumes coordinator batches until the channel closes or ctx is
// cancelled.
func (w *SettlementWorker) RunChannel(ctx context.Context, batches <-chan domain.SettlementBatch) {
	slog.Info("settlement worker starting", "worker_id", w.id, "mode", "coordinator")

	for {
		select {
		case <-ctx.Done():
			slog.Info("settlement worker stopping", "worker_id", w.id)
			return
		case batch, ok := <-batches:
			if !ok {
				slog.Warn("coordinator channel closed, settlement worker shutting down", "worker_id", w.id)
				return
			}
			w.processBatch(ctx, batch)
		}
	}
}

// RunPolling fetches pending settlements directly from the settlements
// service on a fixed interval. Each worker fetches its share of the total
// batch size so the fleet mostly claims disjoint settlements; the version
// check makes the residual overlap harmless.
func (w *SettlementWorker) RunPolling(ctx context.Context) {
	perWorker := w.cfg.BatchSize / w.cfg.WorkerCount
	if perWorker < 1 {
		perWorker = 1
	}

	slog.Info("settlement worker starting",
		"worker_id", w.id,
		"mode", "polling",
		"poll_interval", w.cfg.PollInterval,
		"fetch_limit", perWorker,
	)

	for {
		games, err := w.client.FetchPending(ctx, perWorker)
		if err != nil {
			slog.Error("fetch pending settlements failed", "worker_id", w.id, "error", err)
		}
		for _, game := range games {
			if err := w.ProcessSettlement(ctx, game); err != nil {
				slog.Error("settlement processing failed",
					"worker_id", w.id, "tx_id", game.TransactionID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("settlement worker stopping", "worker_id", w.id)
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *SettlementWorker) processBatch(ctx context.Context, batch domain.SettlementBatch) {
	start := time.Now()
	for _, game := range batch.Settlements {
		if err := w.ProcessSettlement(ctx, game); err != nil {
			slog.Error("settlement processing failed in batch",
				"worker_id", w.id,
				"batch_id", batch.ID,
				"tx_id", game.TransactionID,
				"error", err,
			)
		}
	}
	slog.Info("settlement batch processed",
		"worker_id", w.id,
		"batch_id", batch.ID,
		"batch_type", batch.Type,
		"settlements", len(batch.Settlements),
		"duration", time.Since(start),
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// State machine
// ──────────────────────────────────────────────────────────────────────────────

// ProcessSettlement drives one settlement to completion or to a failure
// status. Errors from individual settlements never abort a batch.
func (w *SettlementWorker) ProcessSettlement(ctx context.Context, game domain.Settlement) error {
	txID := game.TransactionID

	// A settlement that already carries a signature was settled on-chain but
	// never acknowledged. Skip the chain and finish the acknowledgement.
	if game.SolanaTxID != nil && *game.SolanaTxID != "" {
		slog.Info("settlement already on-chain, completing acknowledgement",
			"worker_id", w.id, "tx_id", txID, "signature", *game.SolanaTxID)
		return w.completeWithRetry(txID, *game.SolanaTxID, game.Version)
	}

	// Claim the settlement at its current version. A conflict means another
	// worker got here first.
	if _, err := w.client.UpdateStatus(ctx, txID, settlements.UpdateRequest{
		Status:          domain.SettlementSubmittedToSolana,
		ExpectedVersion: game.Version,
	}); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			slog.Debug("settlement claimed by another worker", "worker_id", w.id, "tx_id", txID)
			metrics.SettlementDuplicateProcessing.Inc()
			return nil
		}
		metrics.SettlementStatusUpdateFailures.Inc()
		return fmt.Errorf("mark submitted: %w", err)
	}

	sig, chainErr := w.settleOnChain(ctx, game)
	if chainErr != nil {
		w.reportChainFailure(ctx, game, chainErr)
		return chainErr
	}

	return w.completeWithRetry(txID, sig, game.Version+1)
}

func (w *SettlementWorker) settleOnChain(ctx context.Context, game domain.Settlement) (string, error) {
	if game.IsWin() {
		return w.gateway.SubmitPayout(ctx, game)
	}
	return w.gateway.SubmitSpend(ctx, game)
}

// reportChainFailure records a failed on-chain attempt: retryable with a
// scheduled next attempt, or permanent once the retry budget is spent. Best
// effort; the settlements service re-serves the record either way.
func (w *SettlementWorker) reportChainFailure(ctx context.Context, game domain.Settlement, cause error) {
	newRetry := game.RetryCount + 1
	msg := fmt.Sprintf("solana settlement failed: %v", cause)

	req := settlements.UpdateRequest{
		Status:          domain.SettlementFailedPermanent,
		ErrorMessage:    &msg,
		ExpectedVersion: game.Version + 1,
		RetryCount:      &newRetry,
	}
	if newRetry < settlementMaxRetries {
		retryAfter := w.now().Add(time.Duration(newRetry) * settlementRetryStep).UnixMilli()
		req.Status = domain.SettlementFailed
		req.NextRetryAfter = &retryAfter
	}

	slog.Warn("settlement failed on-chain",
		"worker_id", w.id,
		"tx_id", game.TransactionID,
		"retry_count", newRetry,
		"status", req.Status,
		"error", cause,
	)

	if _, err := w.client.UpdateStatus(ctx, game.TransactionID, req); err != nil {
		metrics.SettlementStatusUpdateFailures.Inc()
		slog.Error("failed to record settlement failure",
			"worker_id", w.id, "tx_id", game.TransactionID, "error", err)
	}
}

// completeWithRetry reports SettlementComplete, retrying with backoff until
// it lands. The update runs detached from the caller's context: the
// transaction is final on-chain, so cancellation must not lose the
// acknowledgement. A version conflict means another worker already completed
// it. Past the deadline the signature is written to the recovery record and
// the error is surfaced.
func (w *SettlementWorker) completeWithRetry(txID uint64, signature string, expectedVersion uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CompletionDeadline)
	defer cancel()

	backoff := completionBackoffStart
	for attempt := 0; ; attempt++ {
		_, err := w.client.UpdateStatus(ctx, txID, settlements.UpdateRequest{
			Status:          domain.SettlementComplete,
			SolanaTxID:      &signature,
			ExpectedVersion: expectedVersion,
		})
		switch {
		case err == nil:
			if attempt > 0 {
				slog.Info("settlement completed after retries",
					"worker_id", w.id, "tx_id", txID, "retries", attempt)
			}
			return nil
		case errors.Is(err, domain.ErrVersionConflict):
			slog.Info("settlement already completed by another worker",
				"worker_id", w.id, "tx_id", txID)
			return nil
		}

		metrics.SettlementCompletionRetries.Inc()
		slog.Error("completion update failed, retrying",
			"worker_id", w.id,
			"tx_id", txID,
			"signature", signature,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		w.sleep(ctx, backoff)
		if ctx.Err() != nil {
			w.recordRecovery(txID, signature)
			return fmt.Errorf("completion update abandoned for tx %d (signature %s): %w", txID, signature, ctx.Err())
		}
		if backoff *= 2; backoff > completionBackoffMax {
			backoff = completionBackoffMax
		}
	}
}

func (w *SettlementWorker) recordRecovery(txID uint64, signature string) {
	if w.recovery == nil {
		slog.Error("no recovery store configured, settlement needs manual reconciliation",
			"tx_id", txID, "signature", signature)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.recovery.RecordSettlementRecovery(ctx, txID, signature); err != nil {
		slog.Error("failed to write settlement recovery record",
			"tx_id", txID, "signature", signature, "error", err)
		return
	}
	slog.Warn("settlement recovery record written", "tx_id", txID, "signature", signature)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
