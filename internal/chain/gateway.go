// Package chain is the gateway to the Solana vault program: PDA derivation,
// instruction building, transaction submission over a health-checked RPC
// pool, and a simulation mode for development.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
)

// simSignaturePrefix marks signatures produced in simulation mode.
const simSignaturePrefix = "SIM_"

// BetOutcome is the per-bet result of a submitted batch.
type BetOutcome struct {
	BetID  uuid.UUID
	Won    bool
	Payout int64
}

// SignatureStatus classifies a signature lookup for reconciliation.
type SignatureStatus int

const (
	StatusUnknown SignatureStatus = iota
	StatusConfirmed
	StatusFailed
)

// Gateway builds, signs, and submits vault-program transactions. In
// simulation mode no RPC traffic happens: outcomes are random coinflips and
// signatures carry the SIM_ prefix.
type Gateway struct {
	pool       *Pool
	signer     solana.PrivateKey
	programID  solana.PublicKey
	simulate   bool
	commitment rpc.CommitmentType

	coinflip func() bool // stubbed in tests
}

// NewGateway constructs a Gateway. signer is the processor keypair that pays
// fees and signs every instruction.
func NewGateway(pool *Pool, signer solana.PrivateKey, programID solana.PublicKey, simulate bool) *Gateway {
	return &Gateway{
		pool:       pool,
		signer:     signer,
		programID:  programID,
		simulate:   simulate,
		commitment: rpc.CommitmentConfirmed,
		coinflip:   func() bool { return rand.Intn(2) == 0 },
	}
}

// SetCommitment overrides the commitment level used for blockhash fetches and
// preflight. Unknown values keep the default.
func (g *Gateway) SetCommitment(level string) {
	switch level {
	case "processed":
		g.commitment = rpc.CommitmentProcessed
	case "confirmed":
		g.commitment = rpc.CommitmentConfirmed
	case "finalized":
		g.commitment = rpc.CommitmentFinalized
	}
}

// Simulated reports whether the gateway runs in simulation mode.
func (g *Gateway) Simulated() bool { return g.simulate }

// IsSimulatedSignature reports whether sig was produced by simulation mode.
func IsSimulatedSignature(sig string) bool {
	return strings.HasPrefix(sig, simSignaturePrefix)
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet batches
// ──────────────────────────────────────────────────────────────────────────────

// SubmitBetBatch settles a chunk of bets in one transaction: a coinflip per
// bet decides the outcome, losses spend the player's allowance, wins add a
// 2×stake payout leg. Returns the signature and the per-bet outcomes.
func (g *Gateway) SubmitBetBatch(ctx context.Context, bets []domain.Bet, maxBetsPerTx int) (string, []BetOutcome, error) {
	if len(bets) == 0 {
		return "", nil, nil
	}
	if len(bets) > maxBetsPerTx {
		return "", nil, fmt.Errorf("chain.SubmitBetBatch: batch too large: %d bets (max %d)", len(bets), maxBetsPerTx)
	}

	outcomes := make([]BetOutcome, 0, len(bets))
	for _, bet := range bets {
		won := g.coinflip()
		payout := int64(0)
		if won {
			payout = bet.StakeAmount * 2
		}
		outcomes = append(outcomes, BetOutcome{BetID: bet.ID, Won: won, Payout: payout})
	}

	if g.simulate {
		sig := simSignaturePrefix + uuid.NewString()
		slog.Info("simulated bet batch", "bets", len(bets), "signature", sig)
		return sig, outcomes, nil
	}

	client, url, err := g.pool.GetHealthyClient()
	if err != nil {
		return "", nil, fmt.Errorf("chain.SubmitBetBatch: %w", err)
	}

	casino, err := DeriveCasinoPDA(g.programID)
	if err != nil {
		return "", nil, err
	}
	casinoVault, err := DeriveCasinoVaultPDA(casino, g.programID)
	if err != nil {
		return "", nil, err
	}
	vaultAuthority, err := DeriveVaultAuthorityPDA(casino, g.programID)
	if err != nil {
		return "", nil, err
	}

	var instructions []solana.Instruction
	for i, bet := range bets {
		user, err := solana.PublicKeyFromBase58(bet.UserWallet)
		if err != nil {
			return "", nil, fmt.Errorf("chain.SubmitBetBatch: invalid user wallet for bet %s: %w", bet.ID, err)
		}
		userVault, err := DeriveUserVaultPDA(user, casino, g.programID)
		if err != nil {
			return "", nil, err
		}
		allowance, err := g.resolveAllowance(ctx, client, bet.AllowancePDA, user, casino)
		if err != nil {
			return "", nil, fmt.Errorf("chain.SubmitBetBatch: bet %s: %w", bet.ID, err)
		}

		betSeed := BetIDSeed(bet.ID)
		processedBet, err := DeriveProcessedBetPDA(betSeed, g.programID)
		if err != nil {
			return "", nil, err
		}

		instructions = append(instructions, BuildSpendFromAllowance(g.programID, SpendAccounts{
			UserVault:      userVault,
			Casino:         casino,
			Allowance:      allowance,
			ProcessedBet:   processedBet,
			CasinoVault:    casinoVault,
			VaultAuthority: vaultAuthority,
			Processor:      g.signer.PublicKey(),
		}, uint64(bet.StakeAmount), betSeed))

		if outcomes[i].Won {
			payoutSeed := PayoutBetIDSeed(bet.ID)
			marker, err := DerivePayoutMarkerPDA(payoutSeed, g.programID)
			if err != nil {
				return "", nil, err
			}
			instructions = append(instructions, BuildPayout(g.programID, PayoutAccounts{
				Casino:         casino,
				CasinoVault:    casinoVault,
				VaultAuthority: vaultAuthority,
				UserVault:      userVault,
				ProcessedBet:   marker,
				Processor:      g.signer.PublicKey(),
			}, uint64(outcomes[i].Payout), payoutSeed))
		}
	}

	sig, err := g.signAndSend(ctx, client, url, instructions)
	if err != nil {
		return "", nil, fmt.Errorf("chain.SubmitBetBatch: %w", err)
	}
	return sig, outcomes, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement operations
// ──────────────────────────────────────────────────────────────────────────────

// SubmitPayout pays a winning settlement from the casino vault.
func (g *Gateway) SubmitPayout(ctx context.Context, s domain.Settlement) (string, error) {
	if g.simulate {
		sig := simSignaturePrefix + uuid.NewString()
		slog.Info("simulated payout", "tx_id", s.TransactionID, "payout", s.Payout, "signature", sig)
		return sig, nil
	}

	client, url, err := g.pool.GetHealthyClient()
	if err != nil {
		return "", fmt.Errorf("chain.SubmitPayout: %w", err)
	}

	player, err := solana.PublicKeyFromBase58(s.PlayerAddress)
	if err != nil {
		return "", fmt.Errorf("chain.SubmitPayout: invalid player address: %w", err)
	}

	casino, err := DeriveCasinoPDA(g.programID)
	if err != nil {
		return "", err
	}
	userVault, err := DeriveUserVaultPDA(player, casino, g.programID)
	if err != nil {
		return "", err
	}
	casinoVault, err := DeriveCasinoVaultPDA(casino, g.programID)
	if err != nil {
		return "", err
	}
	vaultAuthority, err := DeriveVaultAuthorityPDA(casino, g.programID)
	if err != nil {
		return "", err
	}

	betID := SettlementBetIDSeed(s.TransactionID)
	processedBet, err := DeriveProcessedBetPDA(betID, g.programID)
	if err != nil {
		return "", err
	}

	ix := BuildPayout(g.programID, PayoutAccounts{
		Casino:         casino,
		CasinoVault:    casinoVault,
		VaultAuthority: vaultAuthority,
		UserVault:      userVault,
		ProcessedBet:   processedBet,
		Processor:      g.signer.PublicKey(),
	}, uint64(s.Payout), betID)

	sig, err := g.signAndSend(ctx, client, url, []solana.Instruction{ix})
	if err != nil {
		return "", fmt.Errorf("chain.SubmitPayout: %w", err)
	}
	return sig, nil
}

// SubmitSpend debits a losing settlement from the player's allowance.
func (g *Gateway) SubmitSpend(ctx context.Context, s domain.Settlement) (string, error) {
	if g.simulate {
		sig := simSignaturePrefix + uuid.NewString()
		slog.Info("simulated spend", "tx_id", s.TransactionID, "amount", s.BetAmount, "signature", sig)
		return sig, nil
	}

	client, url, err := g.pool.GetHealthyClient()
	if err != nil {
		return "", fmt.Errorf("chain.SubmitSpend: %w", err)
	}

	player, err := solana.PublicKeyFromBase58(s.PlayerAddress)
	if err != nil {
		return "", fmt.Errorf("chain.SubmitSpend: invalid player address: %w", err)
	}

	casino, err := DeriveCasinoPDA(g.programID)
	if err != nil {
		return "", err
	}
	userVault, err := DeriveUserVaultPDA(player, casino, g.programID)
	if err != nil {
		return "", err
	}
	casinoVault, err := DeriveCasinoVaultPDA(casino, g.programID)
	if err != nil {
		return "", err
	}
	vaultAuthority, err := DeriveVaultAuthorityPDA(casino, g.programID)
	if err != nil {
		return "", err
	}
	allowance, err := g.resolveAllowance(ctx, client, s.AllowancePDA, player, casino)
	if err != nil {
		return "", fmt.Errorf("chain.SubmitSpend: tx %d: %w", s.TransactionID, err)
	}

	betID := SettlementBetIDSeed(s.TransactionID)
	processedBet, err := DeriveProcessedBetPDA(betID, g.programID)
	if err != nil {
		return "", err
	}

	ix := BuildSpendFromAllowance(g.programID, SpendAccounts{
		UserVault:      userVault,
		Casino:         casino,
		Allowance:      allowance,
		ProcessedBet:   processedBet,
		CasinoVault:    casinoVault,
		VaultAuthority: vaultAuthority,
		Processor:      g.signer.PublicKey(),
	}, uint64(s.BetAmount), betID)

	sig, err := g.signAndSend(ctx, client, url, []solana.Instruction{ix})
	if err != nil {
		return "", fmt.Errorf("chain.SubmitSpend: %w", err)
	}
	return sig, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Signature status
// ──────────────────────────────────────────────────────────────────────────────

// GetSignatureStatus classifies a signature for reconciliation. Simulated
// signatures always report confirmed.
func (g *Gateway) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	if IsSimulatedSignature(signature) {
		return StatusConfirmed, nil
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return StatusUnknown, fmt.Errorf("chain.GetSignatureStatus: invalid signature: %w", err)
	}

	client, url, err := g.pool.GetHealthyClient()
	if err != nil {
		return StatusUnknown, fmt.Errorf("chain.GetSignatureStatus: %w", err)
	}

	res, err := client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		g.pool.MarkUnhealthy(url)
		return StatusUnknown, fmt.Errorf("chain.GetSignatureStatus: %w", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return StatusUnknown, nil
	}

	st := res.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StatusConfirmed, nil
	default:
		return StatusUnknown, nil
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────────────

// resolveAllowance picks the allowance account for a player: the provided
// PDA when it exists on-chain, otherwise the latest entry derived from the
// player's nonce registry.
func (g *Gateway) resolveAllowance(ctx context.Context, client *rpc.Client, provided *string, user, casino solana.PublicKey) (solana.PublicKey, error) {
	if provided != nil && *provided != "" {
		pda, err := solana.PublicKeyFromBase58(*provided)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid allowance_pda: %w", err)
		}
		if _, err := client.GetAccountInfo(ctx, pda); err == nil {
			return pda, nil
		}
		slog.Warn("provided allowance_pda missing on-chain, falling back to nonce registry",
			"allowance_pda", pda.String(), "user", user.String())
	}

	registry, err := DeriveAllowanceNonceRegistryPDA(user, casino, g.programID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	info, err := client.GetAccountInfo(ctx, registry)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("nonce registry %s not found: %w", registry, err)
	}
	nextNonce, err := ParseNonceRegistryNextNonce(info.Value.Data.GetBinary())
	if err != nil {
		return solana.PublicKey{}, err
	}
	if nextNonce == 0 {
		return solana.PublicKey{}, fmt.Errorf("nonce registry %s has no approved allowance", registry)
	}

	allowance, err := DeriveAllowancePDA(user, casino, nextNonce-1, g.programID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := client.GetAccountInfo(ctx, allowance); err != nil {
		return solana.PublicKey{}, fmt.Errorf("derived allowance %s not initialized: %w", allowance, err)
	}
	return allowance, nil
}

// signAndSend fetches a recent blockhash, signs with the processor key, and
// submits the transaction. The endpoint is marked unhealthy on transport
// failure.
func (g *Gateway) signAndSend(ctx context.Context, client *rpc.Client, url string, instructions []solana.Instruction) (string, error) {
	blockhash, err := client.GetLatestBlockhash(ctx, g.commitment)
	if err != nil {
		g.pool.MarkUnhealthy(url)
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		SetRecentBlockHash(blockhash.Value.Blockhash).
		SetFeePayer(g.signer.PublicKey())
	for _, ix := range instructions {
		builder.AddInstruction(ix)
	}
	tx, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(g.signer.PublicKey()) {
			return &g.signer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: g.commitment,
	})
	if err != nil {
		g.pool.MarkUnhealthy(url)
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig.String(), nil
}
