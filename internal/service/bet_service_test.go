package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atomikwallet/settlement/internal/config"
	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/queue"
)

func newTestService(t *testing.T) *BetService {
	t.Helper()
	mr := miniredis.RunT(t)
	store := queue.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cfg := &config.Config{
		Bet: config.BetConfig{
			MinStakeLamports: 10_000_000,
			MaxStakeLamports: 1_000_000_000_000,
		},
	}
	return NewBetService(store, nil, cfg)
}

func validRequest() domain.CreateBetRequest {
	return domain.CreateBetRequest{
		UserWallet:   "wallet-1",
		VaultAddress: "vault-1",
		StakeAmount:  50_000_000,
		Choice:       "heads",
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Validation
// ──────────────────────────────────────────────────────────────────────────────

func TestPlaceBetValidation(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name    string
		mutate  func(*domain.CreateBetRequest)
		wantErr error
	}{
		{"missing wallet", func(r *domain.CreateBetRequest) { r.UserWallet = "" }, domain.ErrMissingWallet},
		{"missing vault", func(r *domain.CreateBetRequest) { r.VaultAddress = "" }, domain.ErrMissingVault},
		{"bad choice", func(r *domain.CreateBetRequest) { r.Choice = "edge" }, domain.ErrInvalidChoice},
		{"stake too small", func(r *domain.CreateBetRequest) { r.StakeAmount = 9_999_999 }, domain.ErrBetTooSmall},
		{"stake too large", func(r *domain.CreateBetRequest) { r.StakeAmount = 2_000_000_000_000 }, domain.ErrBetTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			if _, err := svc.PlaceBet(context.Background(), req); !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPlaceBetDefaultsTokenToSOL(t *testing.T) {
	svc := newTestService(t)

	bet, err := svc.PlaceBet(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if bet.StakeToken != "SOL" {
		t.Errorf("stake token = %q, want SOL", bet.StakeToken)
	}
	if bet.Status != domain.BetStatusPending {
		t.Errorf("status = %s, want pending", bet.Status)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim and batch update round trip
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimAndUpdateBatchLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, validRequest())
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	claim, err := svc.ClaimPending(ctx, 10, "worker-0")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claim.Bets) != 1 || claim.Bets[0].ID != placed.ID {
		t.Fatalf("claimed = %+v", claim.Bets)
	}
	if claim.Bets[0].Status != domain.BetStatusBatched {
		t.Errorf("claimed status = %s, want batched", claim.Bets[0].Status)
	}

	sig := "SIM_abc"
	won := true
	payout := int64(100_000_000)
	resp, err := svc.UpdateBatch(ctx, claim.BatchID, domain.UpdateBatchRequest{
		Status:     domain.BatchStatusConfirmed,
		SolanaTxID: &sig,
		BetResults: []domain.BetResult{{
			BetID:        placed.ID,
			Status:       domain.BetStatusCompleted,
			SolanaTxID:   &sig,
			Won:          &won,
			PayoutAmount: &payout,
		}},
	})
	if err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if !resp.Success || resp.UpdatedCount != 1 || resp.ErrorCount != 0 {
		t.Errorf("resp = %+v", resp)
	}

	bet, err := svc.GetBet(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if bet.Status != domain.BetStatusCompleted {
		t.Errorf("status = %s, want completed", bet.Status)
	}
	if bet.SolanaTxID == nil || *bet.SolanaTxID != sig {
		t.Errorf("solana_tx_id = %v", bet.SolanaTxID)
	}
	if bet.Won == nil || !*bet.Won || bet.PayoutAmount == nil || *bet.PayoutAmount != payout {
		t.Errorf("outcome = won %v payout %v", bet.Won, bet.PayoutAmount)
	}

	sum, err := svc.GetBatchSummary(ctx, claim.BatchID)
	if err != nil {
		t.Fatalf("GetBatchSummary: %v", err)
	}
	if sum.Status != domain.BatchStatusConfirmed || sum.UpdatedCount != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestUpdateBatchCountsUnknownStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, validRequest())
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	claim, err := svc.ClaimPending(ctx, 10, "worker-0")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	resp, err := svc.UpdateBatch(ctx, claim.BatchID, domain.UpdateBatchRequest{
		Status: domain.BatchStatusFailed,
		BetResults: []domain.BetResult{
			{BetID: placed.ID, Status: "exploded"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if resp.UpdatedCount != 0 || resp.ErrorCount != 1 {
		t.Errorf("resp = %+v", resp)
	}

	// The bet keeps its claimed status.
	bet, err := svc.GetBet(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if bet.Status != domain.BetStatusBatched {
		t.Errorf("status = %s, want batched", bet.Status)
	}
}

func TestGetUserBets(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.PlaceBet(ctx, validRequest()); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
	}

	bets, err := svc.GetUserBets(ctx, "wallet-1", 2, 0)
	if err != nil {
		t.Fatalf("GetUserBets: %v", err)
	}
	if len(bets) != 2 {
		t.Errorf("bets = %d, want 2", len(bets))
	}

	if _, err := svc.GetBet(ctx, uuid.New()); !domain.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
