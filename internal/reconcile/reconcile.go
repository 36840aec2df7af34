// Package reconcile sweeps bets stuck in the processing index and resolves
// them against the chain. A bet is stuck when a worker claimed it and then
// died before reporting the outcome.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/chain"
	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/metrics"
	"github.com/atomikwallet/settlement/internal/retry"
)

// betStore is the slice of queue.Store the reconciler uses.
type betStore interface {
	StaleProcessing(ctx context.Context, maxAge time.Duration) ([]domain.Bet, error)
	UpdateStatus(ctx context.Context, betID uuid.UUID, status domain.BetStatus, solanaTxID *string) error
	UpdateResultFields(ctx context.Context, betID uuid.UUID, won *bool, payoutAmount *int64, errorMessage *string) error
}

// signatureChecker is the slice of chain.Gateway the reconciler uses.
type signatureChecker interface {
	GetSignatureStatus(ctx context.Context, signature string) (chain.SignatureStatus, error)
}

// DefaultMaxStuckTime is how long a claimed bet may sit in the processing
// index before the reconciler picks it up.
const DefaultMaxStuckTime = 5 * time.Minute

// Config controls one reconciler.
type Config struct {
	SweepInterval time.Duration
	MaxStuckTime  time.Duration
	MaxRetries    int // bet retry budget; 0 uses the policy default
}

// Reconciler resolves stuck bets. With a signature it asks the chain what
// actually happened; without one the transaction never went out and the bet
// is safe to requeue.
type Reconciler struct {
	store   betStore
	checker signatureChecker
	policy  retry.Policy
	cfg     Config
}

// New constructs a Reconciler.
func New(store betStore, checker signatureChecker, cfg Config) *Reconciler {
	if cfg.MaxStuckTime <= 0 {
		cfg.MaxStuckTime = DefaultMaxStuckTime
	}
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	return &Reconciler{
		store:   store,
		checker: checker,
		policy:  policy,
		cfg:     cfg,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("reconciler starting",
		"sweep_interval", r.cfg.SweepInterval,
		"max_stuck_time", r.cfg.MaxStuckTime,
	)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopping")
			return
		case <-ticker.C:
		}

		if err := r.Sweep(ctx); err != nil {
			slog.Error("reconciliation sweep failed", "error", err)
		}
	}
}

// Sweep resolves every currently stuck bet. Individual failures are logged
// and skipped so one poisoned record cannot stall the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	stuck, err := r.store.StaleProcessing(ctx, r.cfg.MaxStuckTime)
	if err != nil {
		return fmt.Errorf("reconcile.Sweep: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	slog.Warn("stuck bets found", "count", len(stuck))
	for _, bet := range stuck {
		if err := r.resolve(ctx, bet); err != nil {
			slog.Error("failed to resolve stuck bet", "bet_id", bet.ID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) resolve(ctx context.Context, bet domain.Bet) error {
	// No signature: the worker died before sending anything. Requeue.
	if bet.SolanaTxID == nil || *bet.SolanaTxID == "" {
		return r.requeue(ctx, bet, "worker died before submission")
	}

	status, err := r.checker.GetSignatureStatus(ctx, *bet.SolanaTxID)
	if err != nil {
		// Leave the bet for the next sweep rather than guessing.
		return fmt.Errorf("signature status for %s: %w", *bet.SolanaTxID, err)
	}

	switch status {
	case chain.StatusConfirmed:
		// The transaction landed; only the bookkeeping was lost. The outcome
		// fields stay empty for an operator because the coinflip result
		// travelled with the dead worker.
		if err := r.store.UpdateStatus(ctx, bet.ID, domain.BetStatusConfirmedOnSolana, bet.SolanaTxID); err != nil {
			return err
		}
		slog.Info("stuck bet recovered from chain",
			"bet_id", bet.ID, "signature", *bet.SolanaTxID)
		metrics.ReconciliationRecovered.Inc()
		return nil

	case chain.StatusFailed:
		return r.requeue(ctx, bet, "transaction failed on chain")

	default:
		// Unknown: not yet visible or expired from the status cache. Requeue
		// once the retry budget allows, otherwise park it for an operator.
		if r.policy.Exhausted(bet.RetryCount + 1) {
			msg := "signature unresolvable after retry budget"
			if err := r.store.UpdateResultFields(ctx, bet.ID, nil, nil, &msg); err != nil {
				return err
			}
			return r.store.UpdateStatus(ctx, bet.ID, domain.BetStatusFailedManualReview, bet.SolanaTxID)
		}
		return r.requeue(ctx, bet, "signature status unknown")
	}
}

func (r *Reconciler) requeue(ctx context.Context, bet domain.Bet, reason string) error {
	msg := "reconciled: " + reason
	if err := r.store.UpdateResultFields(ctx, bet.ID, nil, nil, &msg); err != nil {
		return err
	}
	if err := r.store.UpdateStatus(ctx, bet.ID, domain.BetStatusFailedRetryable, nil); err != nil {
		return err
	}
	slog.Info("stuck bet requeued", "bet_id", bet.ID, "reason", reason)
	metrics.ReconciliationRequeued.Inc()
	return nil
}
