package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ──────────────────────────────────────────────────────────────────────────────
// Account data parsing
// ──────────────────────────────────────────────────────────────────────────────
//
// Anchor accounts carry an 8-byte discriminator prefix.

// ParseNonceRegistryNextNonce extracts next_nonce from an allowance nonce
// registry account.
//
// Layout: discriminator (8) | user (32) | casino (32) | next_nonce (8) | bump (1)
func ParseNonceRegistryNextNonce(data []byte) (uint64, error) {
	const offset = 8 + 32 + 32
	if len(data) < offset+8 {
		return 0, fmt.Errorf("chain.ParseNonceRegistryNextNonce: account data too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), nil
}

// ParseAllowanceTokenMint extracts token_mint from an allowance account.
//
// Layout prefix: discriminator (8) | user (32) | casino (32) | token_mint (32) | ...
func ParseAllowanceTokenMint(data []byte) (solana.PublicKey, error) {
	const offset = 8 + 32 + 32
	if len(data) < offset+32 {
		return solana.PublicKey{}, fmt.Errorf("chain.ParseAllowanceTokenMint: account data too short: %d bytes", len(data))
	}
	return solana.PublicKeyFromBytes(data[offset : offset+32]), nil
}

// IsNativeSOLMint reports whether a parsed token mint denotes native SOL
// rather than an SPL token.
func IsNativeSOLMint(mint solana.PublicKey) bool {
	return mint.IsZero() || mint.Equals(solana.SystemProgramID)
}
