package queue

import (
	"strconv"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Key layout
// ──────────────────────────────────────────────────────────────────────────────

const (
	betKeyPrefix    = "bet:"
	userIndexPrefix = "bets:user:"
	batchKeyPrefix  = "batch:"

	claimableIndex  = "bets:claimable"
	processingIndex = "bets:processing"

	recoveryPrefix = "settlement:recovery:"
)

// BetKey returns the hash key holding one bet's fields.
func BetKey(betID uuid.UUID) string {
	return betKeyPrefix + betID.String()
}

// UserIndexKey returns the sorted-set key indexing a wallet's bets by
// creation time.
func UserIndexKey(userWallet string) string {
	return userIndexPrefix + userWallet
}

// BatchKey returns the hash key holding a processor batch summary.
func BatchKey(batchID uuid.UUID) string {
	return batchKeyPrefix + batchID.String()
}

// ClaimableIndexKey returns the sorted set of claimable bet ids,
// scored by availability instant in unix milliseconds.
func ClaimableIndexKey() string {
	return claimableIndex
}

// ProcessingIndexKey returns the sorted set of bets currently owned by a
// processor, scored by claim instant.
func ProcessingIndexKey() string {
	return processingIndex
}

// RecoveryKey returns the key recording an orphaned settlement completion,
// written when shutdown abandons a critical-completion loop.
func RecoveryKey(txID uint64) string {
	return recoveryPrefix + strconv.FormatUint(txID, 10)
}
