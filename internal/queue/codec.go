package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Hash codec
// ──────────────────────────────────────────────────────────────────────────────
//
// Bets are stored as flat string hashes. Optional fields use the empty string
// for absence so HGETALL always returns a fixed field set.

// encodeBet flattens a bet into the HSET field list written at creation.
func encodeBet(b *domain.Bet) []any {
	return []any{
		"bet_id", b.ID.String(),
		"created_at_ms", strconv.FormatInt(b.CreatedAt.UnixMilli(), 10),
		"user_wallet", b.UserWallet,
		"vault_address", b.VaultAddress,
		"allowance_pda", strOrEmpty(b.AllowancePDA),
		"casino_id", strOrEmpty(b.CasinoID),
		"game_type", b.GameType,
		"stake_amount", strconv.FormatInt(b.StakeAmount, 10),
		"stake_token", b.StakeToken,
		"choice", b.Choice,
		"status", string(b.Status),
		"external_batch_id", "",
		"solana_tx_id", "",
		"retry_count", strconv.Itoa(b.RetryCount),
		"processor_id", "",
		"last_error_code", "",
		"last_error_message", "",
		"payout_amount", "",
		"won", "",
		"version", strconv.FormatInt(b.Version, 10),
	}
}

// decodeBet parses an HGETALL result back into a bet. Missing or malformed
// optional fields degrade to absence; a bad created_at or status is an error
// since neither has a sensible fallback.
func decodeBet(betID uuid.UUID, m map[string]string) (*domain.Bet, error) {
	createdMs, err := strconv.ParseInt(m["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("queue.decodeBet: invalid created_at_ms for bet %s: %w", betID, err)
	}

	statusStr := m["status"]
	if statusStr == "" {
		statusStr = string(domain.BetStatusPending)
	}
	status, ok := domain.ParseBetStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("queue.decodeBet: invalid status %q for bet %s: %w", statusStr, betID, domain.ErrInvalidStatus)
	}

	bet := &domain.Bet{
		ID:               betID,
		CreatedAt:        time.UnixMilli(createdMs).UTC(),
		UserWallet:       m["user_wallet"],
		VaultAddress:     m["vault_address"],
		AllowancePDA:     optStr(m["allowance_pda"]),
		CasinoID:         optStr(m["casino_id"]),
		GameType:         m["game_type"],
		StakeToken:       m["stake_token"],
		Choice:           m["choice"],
		Status:           status,
		SolanaTxID:       optStr(m["solana_tx_id"]),
		ProcessorID:      optStr(m["processor_id"]),
		LastErrorCode:    optStr(m["last_error_code"]),
		LastErrorMessage: optStr(m["last_error_message"]),
	}
	if bet.GameType == "" {
		bet.GameType = "coinflip"
	}

	if v, err := strconv.ParseInt(m["stake_amount"], 10, 64); err == nil {
		bet.StakeAmount = v
	}
	if v, err := strconv.Atoi(m["retry_count"]); err == nil {
		bet.RetryCount = v
	}
	if v, err := strconv.ParseInt(m["version"], 10, 64); err == nil {
		bet.Version = v
	}
	if s := m["external_batch_id"]; s != "" {
		if id, err := uuid.Parse(s); err == nil {
			bet.ExternalBatchID = &id
		}
	}
	if s := m["payout_amount"]; s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			bet.PayoutAmount = &v
		}
	}
	if s := m["won"]; s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			bet.Won = &v
		}
	}

	return bet, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
