package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// BetStatus represents the current state of a bet in the settlement queue.
type BetStatus string

const (
	BetStatusPending            BetStatus = "pending"              // waiting in the claimable queue
	BetStatusBatched            BetStatus = "batched"              // claimed by a processor worker
	BetStatusSubmittedToSolana  BetStatus = "submitted_to_solana"  // transaction sent, awaiting confirmation
	BetStatusConfirmedOnSolana  BetStatus = "confirmed_on_solana"  // confirmed, final bookkeeping pending
	BetStatusCompleted          BetStatus = "completed"            // settled; won/payout_amount populated
	BetStatusFailedRetryable    BetStatus = "failed_retryable"     // transient failure, requeued with backoff
	BetStatusFailedManualReview BetStatus = "failed_manual_review" // retry budget exhausted, operator action required
)

// ParseBetStatus converts the stored string form back to a BetStatus.
// The second return value is false for unknown strings.
func ParseBetStatus(s string) (BetStatus, bool) {
	switch BetStatus(s) {
	case BetStatusPending, BetStatusBatched, BetStatusSubmittedToSolana,
		BetStatusConfirmedOnSolana, BetStatusCompleted,
		BetStatusFailedRetryable, BetStatusFailedManualReview:
		return BetStatus(s), true
	}
	return "", false
}

// IsTerminal returns true for statuses a bet never leaves without operator
// intervention.
func (s BetStatus) IsTerminal() bool {
	return s == BetStatusCompleted || s == BetStatusFailedManualReview
}

// Stake bounds in lamports. Below the minimum, transaction fees eat a
// meaningful share of the stake; above the maximum a single bet could drain
// the casino vault.
const (
	MinBetLamports int64 = 10_000_000        // 0.01 SOL
	MaxBetLamports int64 = 1_000_000_000_000 // 1000 SOL
)

// lamportsPerSOL is the conversion factor for display amounts.
var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// LamportsToSOL converts a lamport amount to its SOL representation for API
// responses and logs. Storage and arithmetic stay in integer lamports.
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.NewFromInt(lamports).Div(lamportsPerSOL)
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet
// ──────────────────────────────────────────────────────────────────────────────

// Bet is a single wager as stored in the queue. Optional fields are pointers;
// the store converts them to and from its empty-string-means-absent encoding
// at its own boundary, never here.
type Bet struct {
	ID               uuid.UUID  `json:"bet_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UserWallet       string     `json:"user_wallet"`
	VaultAddress     string     `json:"vault_address"`
	AllowancePDA     *string    `json:"allowance_pda,omitempty"`
	CasinoID         *string    `json:"casino_id,omitempty"`
	GameType         string     `json:"game_type"`
	StakeAmount      int64      `json:"stake_amount"`
	StakeToken       string     `json:"stake_token"`
	Choice           string     `json:"choice"`
	Status           BetStatus  `json:"status"`
	ExternalBatchID  *uuid.UUID `json:"external_batch_id,omitempty"`
	SolanaTxID       *string    `json:"solana_tx_id,omitempty"`
	RetryCount       int        `json:"retry_count"`
	ProcessorID      *string    `json:"processor_id,omitempty"`
	LastErrorCode    *string    `json:"last_error_code,omitempty"`
	LastErrorMessage *string    `json:"last_error_message,omitempty"`
	PayoutAmount     *int64     `json:"payout_amount,omitempty"`
	Won              *bool      `json:"won,omitempty"`
	Version          int64      `json:"version"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Requests & responses
// ──────────────────────────────────────────────────────────────────────────────

// CreateBetRequest carries the validated inputs for creating a bet.
type CreateBetRequest struct {
	UserWallet   string  `json:"user_wallet"`
	VaultAddress string  `json:"vault_address"`
	AllowancePDA *string `json:"allowance_pda,omitempty"`
	CasinoID     *string `json:"casino_id,omitempty"`
	StakeAmount  int64   `json:"stake_amount"`
	StakeToken   string  `json:"stake_token"`
	Choice       string  `json:"choice"`
}

// BetResponse is the API-safe view of a bet.
type BetResponse struct {
	ID           uuid.UUID        `json:"bet_id"`
	CreatedAt    time.Time        `json:"created_at"`
	UserWallet   string           `json:"user_wallet"`
	GameType     string           `json:"game_type"`
	StakeAmount  int64            `json:"stake_amount"`
	StakeSOL     decimal.Decimal  `json:"stake_sol"`
	StakeToken   string           `json:"stake_token"`
	Choice       string           `json:"choice"`
	Status       BetStatus        `json:"status"`
	SolanaTxID   *string          `json:"solana_tx_id,omitempty"`
	RetryCount   int              `json:"retry_count"`
	LastError    *string          `json:"last_error,omitempty"`
	PayoutAmount *int64           `json:"payout_amount,omitempty"`
	PayoutSOL    *decimal.Decimal `json:"payout_sol,omitempty"`
	Won          *bool            `json:"won,omitempty"`
}

// ToResponse converts a Bet to its API response form.
func (b *Bet) ToResponse() BetResponse {
	resp := BetResponse{
		ID:          b.ID,
		CreatedAt:   b.CreatedAt,
		UserWallet:  b.UserWallet,
		GameType:    b.GameType,
		StakeAmount: b.StakeAmount,
		StakeSOL:    LamportsToSOL(b.StakeAmount),
		StakeToken:  b.StakeToken,
		Choice:      b.Choice,
		Status:      b.Status,
		SolanaTxID:  b.SolanaTxID,
		RetryCount:  b.RetryCount,
		LastError:   b.LastErrorMessage,
		Won:         b.Won,
	}
	if b.PayoutAmount != nil {
		resp.PayoutAmount = b.PayoutAmount
		sol := LamportsToSOL(*b.PayoutAmount)
		resp.PayoutSOL = &sol
	}
	return resp
}

// ──────────────────────────────────────────────────────────────────────────────
// Processor batch contract
// ──────────────────────────────────────────────────────────────────────────────

// BatchStatus is the chunk-level status reported back by a processor.
type BatchStatus string

const (
	BatchStatusCreated   BatchStatus = "created"
	BatchStatusSubmitted BatchStatus = "submitted"
	BatchStatusConfirmed BatchStatus = "confirmed"
	BatchStatusFailed    BatchStatus = "failed"
)

// PendingBetsResponse is returned by GET /api/external/bets/pending. The
// listed bets have already been atomically claimed under BatchID.
type PendingBetsResponse struct {
	BatchID     uuid.UUID `json:"batch_id"`
	ProcessorID string    `json:"processor_id"`
	Bets        []Bet     `json:"bets"`
}

// BetResult is the per-bet outcome a processor reports back.
type BetResult struct {
	BetID        uuid.UUID `json:"bet_id"`
	Status       BetStatus `json:"status"`
	SolanaTxID   *string   `json:"solana_tx_id,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Won          *bool     `json:"won,omitempty"`
	PayoutAmount *int64    `json:"payout_amount,omitempty"`
}

// UpdateBatchRequest is the body of POST /api/external/batches/:batchId.
type UpdateBatchRequest struct {
	Status       BatchStatus `json:"status"`
	SolanaTxID   *string     `json:"solana_tx_id,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	BetResults   []BetResult `json:"bet_results"`
}

// UpdateBatchResponse summarizes how many per-bet updates landed.
type UpdateBatchResponse struct {
	Success      bool      `json:"success"`
	BatchID      uuid.UUID `json:"batch_id"`
	UpdatedCount int       `json:"updated_count"`
	ErrorCount   int       `json:"error_count"`
}
