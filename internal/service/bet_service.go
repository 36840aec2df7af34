// Package service holds the business rules between the HTTP layer and the
// queue store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/audit"
	"github.com/atomikwallet/settlement/internal/config"
	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/queue"
)

// ──────────────────────────────────────────────────────────────────────────────
// BetService
// ──────────────────────────────────────────────────────────────────────────────

// BetService validates and orchestrates bet operations against the Redis
// queue, with an audit trail on every lifecycle transition.
type BetService struct {
	store *queue.Store
	audit audit.Recorder
	cfg   *config.Config
}

// NewBetService creates a BetService.
func NewBetService(store *queue.Store, rec audit.Recorder, cfg *config.Config) *BetService {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &BetService{store: store, audit: rec, cfg: cfg}
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API operations
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBet validates the request and enqueues the bet as claimable.
func (s *BetService) PlaceBet(ctx context.Context, req domain.CreateBetRequest) (*domain.Bet, error) {
	if req.UserWallet == "" {
		return nil, domain.ErrMissingWallet
	}
	if req.VaultAddress == "" {
		return nil, domain.ErrMissingVault
	}
	if req.Choice != "heads" && req.Choice != "tails" {
		return nil, domain.ErrInvalidChoice
	}
	if req.StakeAmount < s.cfg.Bet.MinStakeLamports {
		return nil, domain.ErrBetTooSmall
	}
	if req.StakeAmount > s.cfg.Bet.MaxStakeLamports {
		return nil, domain.ErrBetTooLarge
	}
	if req.StakeToken == "" {
		req.StakeToken = "SOL"
	}

	bet, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}

	slog.Info("bet created",
		"bet_id", bet.ID,
		"user_wallet", bet.UserWallet,
		"stake_lamports", bet.StakeAmount,
		"stake_sol", domain.LamportsToSOL(bet.StakeAmount),
		"choice", bet.Choice,
	)
	s.logAudit(ctx, audit.Entry{
		EventType:   audit.EventBetCreated,
		AggregateID: bet.ID.String(),
		UserID:      &bet.UserWallet,
		AfterState:  audit.Snapshot(bet),
		Actor:       "api",
	})
	return bet, nil
}

// GetBet returns one bet by id.
func (s *BetService) GetBet(ctx context.Context, betID uuid.UUID) (*domain.Bet, error) {
	bet, err := s.store.FindByID(ctx, betID)
	if err != nil {
		return nil, fmt.Errorf("bet_service.GetBet: %w", err)
	}
	return bet, nil
}

// GetUserBets returns a user's bets, newest first.
func (s *BetService) GetUserBets(ctx context.Context, userWallet string, limit, offset int64) ([]domain.Bet, error) {
	bets, err := s.store.FindByUser(ctx, userWallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bet_service.GetUserBets: %w", err)
	}
	return bets, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// External processor operations
// ──────────────────────────────────────────────────────────────────────────────

// ClaimPending atomically claims up to limit pending bets for processorID.
// The store clamps the limit to its claim ceiling.
func (s *BetService) ClaimPending(ctx context.Context, limit int64, processorID string) (domain.PendingBetsResponse, error) {
	batchID, bets, err := s.store.ClaimPending(ctx, limit, processorID)
	if err != nil {
		return domain.PendingBetsResponse{}, fmt.Errorf("bet_service.ClaimPending: %w", err)
	}

	if len(bets) > 0 {
		slog.Info("bets claimed", "batch_id", batchID, "processor_id", processorID, "count", len(bets))
		s.logAudit(ctx, audit.Entry{
			EventType:   audit.EventBetClaimed,
			AggregateID: batchID.String(),
			Metadata:    audit.Snapshot(map[string]any{"processor_id": processorID, "bet_count": len(bets)}),
			Actor:       processorID,
		})
	}
	return domain.PendingBetsResponse{BatchID: batchID, ProcessorID: processorID, Bets: bets}, nil
}

// UpdateBatch applies a processor's per-bet results and records the batch
// summary. Individual bet failures are counted, not fatal: the processor
// already moved on and the reconciler owns stragglers.
func (s *BetService) UpdateBatch(ctx context.Context, batchID uuid.UUID, req domain.UpdateBatchRequest) (domain.UpdateBatchResponse, error) {
	var updated, failed int

	for _, result := range req.BetResults {
		if err := s.applyBetResult(ctx, result); err != nil {
			failed++
			slog.Error("failed to apply bet result",
				"batch_id", batchID, "bet_id", result.BetID, "error", err)
			continue
		}
		updated++
	}

	sum := queue.BatchSummary{
		BatchID:      batchID,
		Status:       req.Status,
		SolanaTxID:   req.SolanaTxID,
		ErrorMessage: req.ErrorMessage,
		UpdatedCount: updated,
		ErrorCount:   failed,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.WriteBatchSummary(ctx, sum); err != nil {
		// Summary is advisory; the per-bet updates above already landed.
		slog.Error("failed to write batch summary", "batch_id", batchID, "error", err)
	}

	slog.Info("batch update processed",
		"batch_id", batchID, "status", req.Status, "updated", updated, "errors", failed)
	s.logAudit(ctx, audit.Entry{
		EventType:   audit.EventBatchUpdated,
		AggregateID: batchID.String(),
		AfterState:  audit.Snapshot(sum),
		Actor:       "processor",
	})

	return domain.UpdateBatchResponse{
		Success:      true,
		BatchID:      batchID,
		UpdatedCount: updated,
		ErrorCount:   failed,
	}, nil
}

// GetBatchSummary returns the recorded outcome of a batch.
func (s *BetService) GetBatchSummary(ctx context.Context, batchID uuid.UUID) (*queue.BatchSummary, error) {
	sum, err := s.store.FindBatchSummary(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("bet_service.GetBatchSummary: %w", err)
	}
	return sum, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────────────

func (s *BetService) applyBetResult(ctx context.Context, result domain.BetResult) error {
	if _, ok := domain.ParseBetStatus(string(result.Status)); !ok {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, result.Status)
	}

	if err := s.store.UpdateStatus(ctx, result.BetID, result.Status, result.SolanaTxID); err != nil {
		return err
	}
	// Outcome fields are advisory for status queries; a failure here must not
	// undo the status transition.
	if err := s.store.UpdateResultFields(ctx, result.BetID, result.Won, result.PayoutAmount, result.ErrorMessage); err != nil {
		slog.Warn("failed to store bet result fields", "bet_id", result.BetID, "error", err)
	}

	if result.Status.IsTerminal() {
		event := audit.EventBetCompleted
		if result.Status == domain.BetStatusFailedManualReview {
			event = audit.EventBetFailed
		}
		s.logAudit(ctx, audit.Entry{
			EventType:   event,
			AggregateID: result.BetID.String(),
			AfterState:  audit.Snapshot(result),
			Actor:       "processor",
		})
	}
	return nil
}

// logAudit writes an audit entry without letting audit outages break the
// request path.
func (s *BetService) logAudit(ctx context.Context, e audit.Entry) {
	if err := s.audit.LogEvent(ctx, e); err != nil {
		slog.Warn("audit write failed", "event_type", e.EventType, "aggregate_id", e.AggregateID, "error", err)
	}
}
