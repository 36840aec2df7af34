package domain

import (
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Settlement: external settlements service records
// ──────────────────────────────────────────────────────────────────────────────

// SettlementStatus is the status vocabulary of the external settlements
// service. The core only writes these; it never interprets the service's
// internal states.
type SettlementStatus string

const (
	SettlementSubmittedToSolana SettlementStatus = "SubmittedToSolana"
	SettlementComplete          SettlementStatus = "SettlementComplete"
	SettlementFailed            SettlementStatus = "SettlementFailed"
	SettlementFailedPermanent   SettlementStatus = "SettlementFailedPermanent"
)

// Game outcomes as reported by the settlements service.
const (
	OutcomeWin  = "Win"
	OutcomeLoss = "Loss"
)

// Settlement is one pending game settlement fetched from the external
// service. Version is opaque to the core and must be echoed on every update.
type Settlement struct {
	TransactionID  uint64  `json:"transaction_id"`
	PlayerAddress  string  `json:"player_address"`
	GameType       string  `json:"game_type"`
	BetAmount      int64   `json:"bet_amount"`
	Token          string  `json:"token"`
	Outcome        string  `json:"outcome"` // "Win" | "Loss"
	Payout         int64   `json:"payout"`
	VRFProof       string  `json:"vrf_proof"`
	VRFOutput      string  `json:"vrf_output"`
	BlockHeight    uint64  `json:"block_height"`
	Version        uint64  `json:"version"`
	SolanaTxID     *string `json:"solana_tx_id,omitempty"` // already settled on chain when present
	RetryCount     uint32  `json:"retry_count"`
	NextRetryAfter *int64  `json:"next_retry_after,omitempty"` // unix milliseconds
	AllowancePDA   *string `json:"allowance_pda,omitempty"`
}

// IsWin reports whether the player won this game.
func (s *Settlement) IsWin() bool {
	return s.Outcome == OutcomeWin
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement batches (coordinator → workers)
// ──────────────────────────────────────────────────────────────────────────────

// SettlementBatchType partitions settlements by the on-chain operation they
// need: wins pay out from the vault, losses spend the player's allowance.
type SettlementBatchType string

const (
	BatchTypePayout SettlementBatchType = "payout"
	BatchTypeSpend  SettlementBatchType = "spend"
)

// SettlementBatch is an in-memory grouping owned by exactly one worker until
// processed. Never persisted: if the process dies the settlements stay
// pending on the external service and are re-fetched next cycle.
type SettlementBatch struct {
	ID          uuid.UUID
	Type        SettlementBatchType
	Settlements []Settlement
}

// NewSettlementBatch creates a batch with a fresh id.
func NewSettlementBatch(t SettlementBatchType, settlements []Settlement) SettlementBatch {
	return SettlementBatch{ID: uuid.New(), Type: t, Settlements: settlements}
}
