package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors, compared with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Bet errors
var (
	// ErrBetNotFound is returned when no bet matches the given id.
	ErrBetNotFound = errors.New("bet not found")

	// ErrBatchNotFound is returned when a batch summary does not exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBetTooSmall is returned when the stake is below MinBetLamports.
	ErrBetTooSmall = errors.New("stake amount is below the minimum")

	// ErrBetTooLarge is returned when the stake exceeds MaxBetLamports.
	ErrBetTooLarge = errors.New("stake amount is above the maximum")

	// ErrMissingWallet is returned when the user wallet address is empty.
	ErrMissingWallet = errors.New("user wallet address is required")

	// ErrMissingVault is returned when the vault address is empty.
	ErrMissingVault = errors.New("vault address is required")

	// ErrInvalidChoice is returned when the coinflip choice is not heads or tails.
	ErrInvalidChoice = errors.New("invalid choice: must be heads or tails")

	// ErrInvalidStatus is returned for status strings outside the known set.
	ErrInvalidStatus = errors.New("invalid bet status")
)

// Queue errors
var (
	// ErrVersionMismatch is returned when a CAS update loses the race: the
	// stored version no longer matches the expected one.
	ErrVersionMismatch = errors.New("bet version mismatch")

	// ErrAlreadyClaimed is returned when a status transition targets a bet
	// that another processor owns.
	ErrAlreadyClaimed = errors.New("bet is already claimed by another processor")
)

// Settlements service errors
var (
	// ErrVersionConflict is returned when the external settlements service
	// rejects an update with 409: another worker updated the record first.
	ErrVersionConflict = errors.New("settlement version conflict")

	// ErrSettlementNotFound is returned when the external service has no
	// record for the given transaction id.
	ErrSettlementNotFound = errors.New("settlement not found")
)

// Chain errors
var (
	// ErrNoHealthyRPC is returned when every RPC endpoint in the pool is
	// marked unhealthy.
	ErrNoHealthyRPC = errors.New("no healthy rpc endpoint available")

	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without attempting it.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTxRejected is returned when the chain rejects a submitted
	// transaction.
	ErrTxRejected = errors.New("transaction rejected by chain")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid API key is not present.
	ErrUnauthorized = errors.New("unauthorized")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrBetNotFound,
	ErrBatchNotFound,
	ErrSettlementNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for request-validation errors (HTTP 400).
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrBetTooSmall,
		ErrBetTooLarge,
		ErrMissingWallet,
		ErrMissingVault,
		ErrInvalidChoice,
		ErrInvalidStatus,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for optimistic-concurrency losses and ownership
// conflicts (HTTP 409).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrVersionMismatch,
		ErrVersionConflict,
		ErrAlreadyClaimed,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
