package chain

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// PDA derivation
// ──────────────────────────────────────────────────────────────────────────────
//
// All seeds must match the on-chain vault program exactly.

// DeriveCasinoPDA returns the singleton casino account.
func DeriveCasinoPDA(programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("casino")}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveCasinoPDA: %w", err)
	}
	return pda, nil
}

// DeriveUserVaultPDA returns a user's vault under the casino.
func DeriveUserVaultPDA(user, casino, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("vault"), casino.Bytes(), user.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveUserVaultPDA: %w", err)
	}
	return pda, nil
}

// DeriveCasinoVaultPDA returns the program-owned account holding the house SOL.
func DeriveCasinoVaultPDA(casino, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("casino-vault"), casino.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveCasinoVaultPDA: %w", err)
	}
	return pda, nil
}

// DeriveVaultAuthorityPDA returns the signing authority for SPL transfers.
func DeriveVaultAuthorityPDA(casino, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("vault-authority"), casino.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveVaultAuthorityPDA: %w", err)
	}
	return pda, nil
}

// DeriveProcessedBetPDA returns the idempotency marker account for one bet id.
// The bet id must already be in seed form (hyphenless, ≤32 bytes).
func DeriveProcessedBetPDA(betID string, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("processed-bet"), []byte(betID)}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveProcessedBetPDA: %w", err)
	}
	return pda, nil
}

// DerivePayoutMarkerPDA returns the marker account for a payout instruction.
func DerivePayoutMarkerPDA(payoutBetID string, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("payout"), []byte(payoutBetID)}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DerivePayoutMarkerPDA: %w", err)
	}
	return pda, nil
}

// DeriveAllowanceNonceRegistryPDA returns the per-user nonce registry.
func DeriveAllowanceNonceRegistryPDA(user, casino, programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("allowance-nonce"), user.Bytes(), casino.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveAllowanceNonceRegistryPDA: %w", err)
	}
	return pda, nil
}

// DeriveAllowancePDA returns the allowance account for a specific nonce.
func DeriveAllowancePDA(user, casino solana.PublicKey, nonce uint64, programID solana.PublicKey) (solana.PublicKey, error) {
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("allowance"), user.Bytes(), casino.Bytes(), nonceBytes[:]}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("chain.DeriveAllowancePDA: %w", err)
	}
	return pda, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet id seed forms
// ──────────────────────────────────────────────────────────────────────────────

// BetIDSeed strips hyphens from a bet UUID so the 36-char textual form fits
// the 32-byte PDA seed limit.
func BetIDSeed(betID uuid.UUID) string {
	return strings.ReplaceAll(betID.String(), "-", "")
}

// PayoutBetIDSeed builds the marker id for the payout leg of a won bet:
// "payout" plus the first 24 chars of the hyphenless id, again under the
// 32-byte seed limit.
func PayoutBetIDSeed(betID uuid.UUID) string {
	return "payout" + BetIDSeed(betID)[:24]
}

// SettlementBetIDSeed builds the marker id for an external settlement, which
// is keyed by its numeric transaction id rather than a UUID.
func SettlementBetIDSeed(transactionID uint64) string {
	return fmt.Sprintf("bet-%d", transactionID)
}
