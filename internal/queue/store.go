// Package queue implements the Redis-backed bet queue: hash-per-bet storage,
// the claimable/processing sorted-set indexes, and the Lua claim protocol.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/retry"
)

// maxClaimLimit caps a single claim so one processor cannot drain the queue.
const maxClaimLimit = 500

// Store is the Redis-backed bet queue. All multi-key transitions go through
// Lua scripts or MULTI pipelines so a bet is always in exactly one of
// {claimable, processing, terminal}.
type Store struct {
	rdb    *redis.Client
	policy retry.Policy
}

// NewStore creates a Store using the default retry policy.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, policy: retry.DefaultPolicy()}
}

// NewStoreWithPolicy creates a Store with a custom retry policy.
func NewStoreWithPolicy(rdb *redis.Client, policy retry.Policy) *Store {
	return &Store{rdb: rdb, policy: policy}
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue.Ping: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Creation & lookup
// ──────────────────────────────────────────────────────────────────────────────

// Create stores a new pending bet and registers it in the user and claimable
// indexes in one atomic pipeline. Validation happens in the service layer.
func (s *Store) Create(ctx context.Context, req domain.CreateBetRequest) (*domain.Bet, error) {
	now := time.Now().UTC()
	bet := &domain.Bet{
		ID:           uuid.New(),
		CreatedAt:    now,
		UserWallet:   req.UserWallet,
		VaultAddress: req.VaultAddress,
		AllowancePDA: req.AllowancePDA,
		CasinoID:     req.CasinoID,
		GameType:     "coinflip",
		StakeAmount:  req.StakeAmount,
		StakeToken:   req.StakeToken,
		Choice:       req.Choice,
		Status:       domain.BetStatusPending,
	}

	nowMs := now.UnixMilli()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, BetKey(bet.ID), encodeBet(bet)...)
	pipe.ZAdd(ctx, UserIndexKey(bet.UserWallet), redis.Z{Score: float64(nowMs), Member: bet.ID.String()})
	pipe.ZAdd(ctx, ClaimableIndexKey(), redis.Z{Score: float64(nowMs), Member: bet.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue.Create: %w", err)
	}

	return bet, nil
}

// FindByID loads one bet. Returns domain.ErrBetNotFound when the hash does
// not exist.
func (s *Store) FindByID(ctx context.Context, betID uuid.UUID) (*domain.Bet, error) {
	m, err := s.rdb.HGetAll(ctx, BetKey(betID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.FindByID: %w", err)
	}
	if len(m) == 0 {
		return nil, domain.ErrBetNotFound
	}
	return decodeBet(betID, m)
}

// FindByUser returns a wallet's bets newest-first, paginated.
func (s *Store) FindByUser(ctx context.Context, userWallet string, limit, offset int64) ([]domain.Bet, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := max(offset, 0)
	end := start + limit - 1

	ids, err := s.rdb.ZRevRange(ctx, UserIndexKey(userWallet), start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.FindByUser: %w", err)
	}
	return s.loadBets(ctx, ids)
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim protocol
// ──────────────────────────────────────────────────────────────────────────────

// ClaimPending atomically claims up to limit due bets for processorID under a
// fresh batch id. Claimed bets move claimable → processing and transition to
// Batched inside the Lua script, so two processors can never own the same bet.
func (s *Store) ClaimPending(ctx context.Context, limit int64, processorID string) (uuid.UUID, []domain.Bet, error) {
	if limit < 0 {
		limit = 0
	}
	if limit > maxClaimLimit {
		limit = maxClaimLimit
	}
	batchID := uuid.New()
	nowMs := time.Now().UnixMilli()

	res, err := claimPendingScript.Run(ctx, s.rdb,
		[]string{ClaimableIndexKey(), ProcessingIndexKey()},
		limit, batchID.String(), processorID, nowMs,
	).StringSlice()
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("queue.ClaimPending: %w", err)
	}

	bets, err := s.loadBets(ctx, res)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return batchID, bets, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Status updates
// ──────────────────────────────────────────────────────────────────────────────

// UpdateStatus transitions a bet and maintains the index ownership rule:
// Pending/FailedRetryable live in claimable, Batched in processing, terminal
// and in-flight chain states in neither.
//
// FailedRetryable takes the scripted path: the retry count is incremented
// atomically and the bet either re-enters claimable with exponential backoff
// or escalates to FailedManualReview past the retry budget.
func (s *Store) UpdateStatus(ctx context.Context, betID uuid.UUID, status domain.BetStatus, solanaTxID *string) error {
	key := BetKey(betID)

	if status == domain.BetStatusFailedRetryable {
		current, err := s.rdb.HGet(ctx, key, "retry_count").Int()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("queue.UpdateStatus: read retry_count: %w", err)
		}
		backoff := s.policy.Backoff(current + 1)

		err = failRetryableScript.Run(ctx, s.rdb,
			[]string{key, ClaimableIndexKey(), ProcessingIndexKey()},
			betID.String(), time.Now().UnixMilli(), s.policy.MaxRetries, backoff.Milliseconds(),
		).Err()
		if err != nil {
			return fmt.Errorf("queue.UpdateStatus: fail retryable: %w", err)
		}
		return nil
	}

	nowMs := time.Now().UnixMilli()
	id := betID.String()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "status", string(status))
	if solanaTxID != nil {
		pipe.HSet(ctx, key, "solana_tx_id", *solanaTxID)
	}

	// Clear stale error fields when leaving failure states.
	if status != domain.BetStatusFailedManualReview {
		pipe.HSet(ctx, key, "last_error_code", "", "last_error_message", "")
	}

	switch status {
	case domain.BetStatusPending:
		pipe.ZAdd(ctx, ClaimableIndexKey(), redis.Z{Score: float64(nowMs), Member: id})
		pipe.ZRem(ctx, ProcessingIndexKey(), id)
	case domain.BetStatusBatched:
		pipe.ZRem(ctx, ClaimableIndexKey(), id)
		pipe.ZAdd(ctx, ProcessingIndexKey(), redis.Z{Score: float64(nowMs), Member: id})
	default:
		pipe.ZRem(ctx, ClaimableIndexKey(), id)
		pipe.ZRem(ctx, ProcessingIndexKey(), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue.UpdateStatus: %w", err)
	}
	return nil
}

// UpdateStatusCAS performs a versioned status update. Returns
// domain.ErrVersionMismatch when the stored version differs from expected.
func (s *Store) UpdateStatusCAS(ctx context.Context, betID uuid.UUID, expectedVersion int64, status domain.BetStatus) error {
	updated, err := casUpdateScript.Run(ctx, s.rdb,
		[]string{BetKey(betID)},
		expectedVersion, string(status),
	).Int()
	if err != nil {
		return fmt.Errorf("queue.UpdateStatusCAS: %w", err)
	}
	if updated != 1 {
		return domain.ErrVersionMismatch
	}
	return nil
}

// UpdateResultFields writes the outcome fields without touching status or
// indexes. Nil arguments leave the stored field unchanged.
func (s *Store) UpdateResultFields(ctx context.Context, betID uuid.UUID, won *bool, payoutAmount *int64, errorMessage *string) error {
	key := BetKey(betID)
	fields := make([]any, 0, 6)
	if won != nil {
		fields = append(fields, "won", strconv.FormatBool(*won))
	}
	if payoutAmount != nil {
		fields = append(fields, "payout_amount", strconv.FormatInt(*payoutAmount, 10))
	}
	if errorMessage != nil {
		fields = append(fields, "last_error_message", *errorMessage)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("queue.UpdateResultFields: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Batch summaries
// ──────────────────────────────────────────────────────────────────────────────

// BatchSummary is the per-batch outcome recorded when a processor reports
// results.
type BatchSummary struct {
	BatchID      uuid.UUID
	Status       domain.BatchStatus
	SolanaTxID   *string
	ErrorMessage *string
	UpdatedCount int
	ErrorCount   int
	UpdatedAt    time.Time
}

// batchSummaryTTL bounds how long finished batch summaries are kept.
const batchSummaryTTL = 7 * 24 * time.Hour

// WriteBatchSummary records a batch outcome under batch:<uuid>.
func (s *Store) WriteBatchSummary(ctx context.Context, sum BatchSummary) error {
	key := BatchKey(sum.BatchID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"batch_id", sum.BatchID.String(),
		"status", string(sum.Status),
		"solana_tx_id", strOrEmpty(sum.SolanaTxID),
		"error_message", strOrEmpty(sum.ErrorMessage),
		"updated_count", strconv.Itoa(sum.UpdatedCount),
		"error_count", strconv.Itoa(sum.ErrorCount),
		"updated_at_ms", strconv.FormatInt(time.Now().UnixMilli(), 10),
	)
	pipe.Expire(ctx, key, batchSummaryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue.WriteBatchSummary: %w", err)
	}
	return nil
}

// FindBatchSummary loads a batch summary. Returns domain.ErrBatchNotFound
// when absent.
func (s *Store) FindBatchSummary(ctx context.Context, batchID uuid.UUID) (*BatchSummary, error) {
	m, err := s.rdb.HGetAll(ctx, BatchKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.FindBatchSummary: %w", err)
	}
	if len(m) == 0 {
		return nil, domain.ErrBatchNotFound
	}

	sum := &BatchSummary{
		BatchID:      batchID,
		Status:       domain.BatchStatus(m["status"]),
		SolanaTxID:   optStr(m["solana_tx_id"]),
		ErrorMessage: optStr(m["error_message"]),
	}
	if v, err := strconv.Atoi(m["updated_count"]); err == nil {
		sum.UpdatedCount = v
	}
	if v, err := strconv.Atoi(m["error_count"]); err == nil {
		sum.ErrorCount = v
	}
	if v, err := strconv.ParseInt(m["updated_at_ms"], 10, 64); err == nil {
		sum.UpdatedAt = time.UnixMilli(v).UTC()
	}
	return sum, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reconciliation & recovery support
// ──────────────────────────────────────────────────────────────────────────────

// StaleProcessing returns bets that have sat in the processing index longer
// than maxAge, oldest first. Their owning worker is presumed dead or wedged.
func (s *Store) StaleProcessing(ctx context.Context, maxAge time.Duration) ([]domain.Bet, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	ids, err := s.rdb.ZRangeByScore(ctx, ProcessingIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.StaleProcessing: %w", err)
	}
	return s.loadBets(ctx, ids)
}

// RecordSettlementRecovery persists a confirmed chain signature whose
// completion report to the settlements service was abandoned at shutdown.
// An operator (or a future boot pass) replays these.
func (s *Store) RecordSettlementRecovery(ctx context.Context, txID uint64, signature string) error {
	err := s.rdb.HSet(ctx, RecoveryKey(txID),
		"transaction_id", strconv.FormatUint(txID, 10),
		"solana_tx_id", signature,
		"recorded_at_ms", strconv.FormatInt(time.Now().UnixMilli(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("queue.RecordSettlementRecovery: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// loadBets fetches the given bet ids, skipping ids whose hash has vanished.
func (s *Store) loadBets(ctx context.Context, ids []string) ([]domain.Bet, error) {
	bets := make([]domain.Bet, 0, len(ids))
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		bet, err := s.FindByID(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		bets = append(bets, *bet)
	}
	return bets, nil
}
