package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atomikwallet/settlement/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), rdb
}

func createBet(t *testing.T, s *Store, wallet string) *domain.Bet {
	t.Helper()
	bet, err := s.Create(context.Background(), domain.CreateBetRequest{
		UserWallet:   wallet,
		VaultAddress: "VaultAddr111",
		StakeAmount:  50_000_000,
		StakeToken:   "SOL",
		Choice:       "heads",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return bet
}

// ──────────────────────────────────────────────────────────────────────────────
// Creation & lookup
// ──────────────────────────────────────────────────────────────────────────────

func TestCreateAndFindByID(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletA")

	got, err := s.FindByID(ctx, bet.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != domain.BetStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.UserWallet != "walletA" || got.StakeAmount != 50_000_000 || got.Choice != "heads" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Version != 0 {
		t.Errorf("version = %d, want 0", got.Version)
	}
	if got.SolanaTxID != nil || got.Won != nil || got.PayoutAmount != nil {
		t.Errorf("optional fields should start absent: %+v", got)
	}

	// New bets are claimable and indexed under the user.
	if n := rdb.ZScore(ctx, ClaimableIndexKey(), bet.ID.String()); n.Err() != nil {
		t.Error("bet missing from claimable index")
	}
	if n := rdb.ZScore(ctx, UserIndexKey("walletA"), bet.ID.String()); n.Err() != nil {
		t.Error("bet missing from user index")
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.FindByID(context.Background(), uuid.New())
	if !domain.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestFindByUserPagination(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		bet := createBet(t, s, "walletB")
		ids = append(ids, bet.ID)
		time.Sleep(2 * time.Millisecond) // distinct creation scores
	}

	page, err := s.FindByUser(ctx, "walletB", 2, 0)
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	// Newest first.
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Errorf("wrong order: got %v %v", page[0].ID, page[1].ID)
	}

	rest, err := s.FindByUser(ctx, "walletB", 10, 2)
	if err != nil {
		t.Fatalf("FindByUser offset: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("offset page len = %d, want 3", len(rest))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim protocol
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimPendingMovesBetsToProcessing(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	a := createBet(t, s, "walletC")
	b := createBet(t, s, "walletC")

	batchID, claimed, err := s.ClaimPending(ctx, 10, "proc-1")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if batchID == uuid.Nil {
		t.Error("batch id should not be nil")
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d bets, want 2", len(claimed))
	}

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		bet, err := s.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if bet.Status != domain.BetStatusBatched {
			t.Errorf("status = %s, want batched", bet.Status)
		}
		if bet.ExternalBatchID == nil || *bet.ExternalBatchID != batchID {
			t.Errorf("external_batch_id not set to claim batch")
		}
		if bet.ProcessorID == nil || *bet.ProcessorID != "proc-1" {
			t.Errorf("processor_id not set")
		}
		if rdb.ZScore(ctx, ClaimableIndexKey(), id.String()).Err() != redis.Nil {
			t.Error("claimed bet still in claimable index")
		}
		if rdb.ZScore(ctx, ProcessingIndexKey(), id.String()).Err() != nil {
			t.Error("claimed bet missing from processing index")
		}
	}
}

func TestClaimPendingSkipsFutureBets(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletD")

	// Push availability 1 minute into the future.
	future := float64(time.Now().Add(time.Minute).UnixMilli())
	if err := rdb.ZAdd(ctx, ClaimableIndexKey(), redis.Z{Score: future, Member: bet.ID.String()}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	_, claimed, err := s.ClaimPending(ctx, 10, "proc-1")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d bets, want 0 (not yet due)", len(claimed))
	}

	got, _ := s.FindByID(ctx, bet.ID)
	if got.Status != domain.BetStatusPending {
		t.Errorf("status = %s, want pending (untouched)", got.Status)
	}
}

func TestClaimPendingRespectsLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createBet(t, s, "walletE")
	}

	_, claimed, err := s.ClaimPending(ctx, 3, "proc-1")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claimed) != 3 {
		t.Errorf("claimed %d, want 3", len(claimed))
	}

	_, rest, err := s.ClaimPending(ctx, 10, "proc-2")
	if err != nil {
		t.Fatalf("second ClaimPending: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("second claim got %d, want 2", len(rest))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Status updates
// ──────────────────────────────────────────────────────────────────────────────

func TestFailedRetryableRequeuesWithBackoff(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletF")
	if _, _, err := s.ClaimPending(ctx, 10, "proc-1"); err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	before := time.Now().UnixMilli()
	if err := s.UpdateStatus(ctx, bet.ID, domain.BetStatusFailedRetryable, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := s.FindByID(ctx, bet.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != domain.BetStatusFailedRetryable {
		t.Errorf("status = %s, want failed_retryable", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.SolanaTxID != nil {
		t.Error("solana_tx_id should be cleared on retryable failure")
	}

	// Back in claimable with availability ≈ now + 2s (first backoff step).
	score, err := rdb.ZScore(ctx, ClaimableIndexKey(), bet.ID.String()).Result()
	if err != nil {
		t.Fatalf("bet not requeued in claimable: %v", err)
	}
	delay := int64(score) - before
	if delay < 1900 || delay > 2500 {
		t.Errorf("backoff delay = %dms, want ≈2000ms", delay)
	}
	if rdb.ZScore(ctx, ProcessingIndexKey(), bet.ID.String()).Err() != redis.Nil {
		t.Error("bet should have left the processing index")
	}

	// Not claimable until the backoff elapses.
	_, claimed, err := s.ClaimPending(ctx, 10, "proc-1")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d, want 0 during backoff", len(claimed))
	}
}

func TestFailedRetryableEscalatesToManualReview(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletG")

	// Pre-load retry_count at the budget so the next failure escalates.
	if err := rdb.HSet(ctx, BetKey(bet.ID), "retry_count", "5").Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	if err := s.UpdateStatus(ctx, bet.ID, domain.BetStatusFailedRetryable, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := s.FindByID(ctx, bet.ID)
	if got.Status != domain.BetStatusFailedManualReview {
		t.Errorf("status = %s, want failed_manual_review", got.Status)
	}
	if got.RetryCount != 6 {
		t.Errorf("retry_count = %d, want 6", got.RetryCount)
	}
	if rdb.ZScore(ctx, ClaimableIndexKey(), bet.ID.String()).Err() != redis.Nil {
		t.Error("terminal bet must not be claimable")
	}
	if rdb.ZScore(ctx, ProcessingIndexKey(), bet.ID.String()).Err() != redis.Nil {
		t.Error("terminal bet must not be processing")
	}
}

func TestUpdateStatusCompletedClearsIndexes(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletH")
	if _, _, err := s.ClaimPending(ctx, 10, "proc-1"); err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	sig := "5KtP3yZq"
	if err := s.UpdateStatus(ctx, bet.ID, domain.BetStatusCompleted, &sig); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := s.FindByID(ctx, bet.ID)
	if got.Status != domain.BetStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.SolanaTxID == nil || *got.SolanaTxID != sig {
		t.Errorf("solana_tx_id = %v, want %s", got.SolanaTxID, sig)
	}
	if rdb.ZScore(ctx, ClaimableIndexKey(), bet.ID.String()).Err() != redis.Nil {
		t.Error("completed bet must not be claimable")
	}
	if rdb.ZScore(ctx, ProcessingIndexKey(), bet.ID.String()).Err() != redis.Nil {
		t.Error("completed bet must not be processing")
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletI")

	// Version starts at 0; a matching CAS succeeds and bumps it.
	if err := s.UpdateStatusCAS(ctx, bet.ID, 0, domain.BetStatusBatched); err != nil {
		t.Fatalf("UpdateStatusCAS: %v", err)
	}
	got, _ := s.FindByID(ctx, bet.ID)
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.Status != domain.BetStatusBatched {
		t.Errorf("status = %s, want batched", got.Status)
	}

	// A stale expected version loses the race.
	err := s.UpdateStatusCAS(ctx, bet.ID, 0, domain.BetStatusCompleted)
	if !domain.IsConflict(err) {
		t.Errorf("err = %v, want version mismatch", err)
	}
	got, _ = s.FindByID(ctx, bet.ID)
	if got.Status != domain.BetStatusBatched || got.Version != 1 {
		t.Errorf("losing CAS must not change anything: %+v", got)
	}
}

func TestUpdateResultFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletJ")

	won := true
	payout := int64(100_000_000)
	if err := s.UpdateResultFields(ctx, bet.ID, &won, &payout, nil); err != nil {
		t.Fatalf("UpdateResultFields: %v", err)
	}

	got, _ := s.FindByID(ctx, bet.ID)
	if got.Won == nil || !*got.Won {
		t.Error("won not recorded")
	}
	if got.PayoutAmount == nil || *got.PayoutAmount != payout {
		t.Errorf("payout_amount = %v, want %d", got.PayoutAmount, payout)
	}
	if got.LastErrorMessage != nil {
		t.Error("error message should stay absent")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Batch summaries & reconciliation
// ──────────────────────────────────────────────────────────────────────────────

func TestBatchSummaryRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sig := "SIM_abc"
	sum := BatchSummary{
		BatchID:      uuid.New(),
		Status:       domain.BatchStatusConfirmed,
		SolanaTxID:   &sig,
		UpdatedCount: 8,
		ErrorCount:   0,
	}
	if err := s.WriteBatchSummary(ctx, sum); err != nil {
		t.Fatalf("WriteBatchSummary: %v", err)
	}

	got, err := s.FindBatchSummary(ctx, sum.BatchID)
	if err != nil {
		t.Fatalf("FindBatchSummary: %v", err)
	}
	if got.Status != domain.BatchStatusConfirmed || got.UpdatedCount != 8 {
		t.Errorf("summary mismatch: %+v", got)
	}
	if got.SolanaTxID == nil || *got.SolanaTxID != sig {
		t.Errorf("solana_tx_id = %v, want %s", got.SolanaTxID, sig)
	}

	if _, err := s.FindBatchSummary(ctx, uuid.New()); !domain.IsNotFound(err) {
		t.Errorf("missing summary err = %v, want not found", err)
	}
}

func TestStaleProcessing(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	bet := createBet(t, s, "walletK")
	if _, _, err := s.ClaimPending(ctx, 10, "proc-1"); err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	// Freshly claimed: nothing is stale yet.
	stale, err := s.StaleProcessing(ctx, time.Minute)
	if err != nil {
		t.Fatalf("StaleProcessing: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %d, want 0", len(stale))
	}

	// Age the claim by rewriting its score 10 minutes into the past.
	past := float64(time.Now().Add(-10 * time.Minute).UnixMilli())
	if err := rdb.ZAdd(ctx, ProcessingIndexKey(), redis.Z{Score: past, Member: bet.ID.String()}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	stale, err = s.StaleProcessing(ctx, time.Minute)
	if err != nil {
		t.Fatalf("StaleProcessing: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != bet.ID {
		t.Errorf("stale = %v, want the aged bet", stale)
	}
}
