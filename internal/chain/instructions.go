package chain

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// ──────────────────────────────────────────────────────────────────────────────
// Instruction builders
// ──────────────────────────────────────────────────────────────────────────────
//
// Anchor discriminators: SHA256("global:<name>")[0..8].

var (
	spendFromAllowanceDiscriminator = []byte{143, 226, 77, 235, 46, 46, 239, 222}
	payoutDiscriminator             = []byte{149, 140, 194, 236, 174, 189, 6, 239}
)

// encodeAmountAndBetID serializes the common (u64 amount, string bet_id)
// argument pair: amount little-endian, then a u32 length prefix and the raw
// bet id bytes.
func encodeAmountAndBetID(discriminator []byte, amount uint64, betID string) []byte {
	data := make([]byte, 0, len(discriminator)+8+4+len(betID))
	data = append(data, discriminator...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(betID)))
	data = append(data, betID...)
	return data
}

// SpendAccounts are the accounts for one spend_from_allowance instruction.
// UserTokenAccount and CasinoTokenAccount are nil for native SOL; the
// on-chain program treats an account equal to the program id as None, and the
// placeholders must stay writable to keep Anchor's optional-account detection
// working.
type SpendAccounts struct {
	UserVault          solana.PublicKey
	Casino             solana.PublicKey
	Allowance          solana.PublicKey
	ProcessedBet       solana.PublicKey
	CasinoVault        solana.PublicKey
	VaultAuthority     solana.PublicKey
	UserTokenAccount   *solana.PublicKey
	CasinoTokenAccount *solana.PublicKey
	Processor          solana.PublicKey
}

// BuildSpendFromAllowance builds the instruction that debits a player's
// allowance for a lost bet.
func BuildSpendFromAllowance(programID solana.PublicKey, acc SpendAccounts, amount uint64, betID string) solana.Instruction {
	data := encodeAmountAndBetID(spendFromAllowanceDiscriminator, amount, betID)

	metas := solana.AccountMetaSlice{
		solana.Meta(acc.UserVault).WRITE(),
		solana.Meta(acc.Casino).WRITE(),
		solana.Meta(acc.Allowance).WRITE(),
		solana.Meta(acc.ProcessedBet).WRITE(),
		solana.Meta(acc.CasinoVault).WRITE(),
		solana.Meta(acc.VaultAuthority),
	}

	splMode := acc.UserTokenAccount != nil && acc.CasinoTokenAccount != nil
	if splMode {
		metas = append(metas,
			solana.Meta(*acc.UserTokenAccount).WRITE(),
			solana.Meta(*acc.CasinoTokenAccount).WRITE(),
		)
	} else {
		metas = append(metas,
			solana.Meta(programID).WRITE(),
			solana.Meta(programID).WRITE(),
		)
	}

	metas = append(metas,
		solana.Meta(acc.Processor).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	)

	if splMode {
		metas = append(metas, solana.Meta(solana.TokenProgramID))
	} else {
		metas = append(metas, solana.Meta(programID))
	}

	return solana.NewInstruction(programID, metas, data)
}

// PayoutAccounts are the accounts for one payout instruction. Payouts are
// native SOL only; the optional token slots carry program-id placeholders.
type PayoutAccounts struct {
	Casino         solana.PublicKey
	CasinoVault    solana.PublicKey
	VaultAuthority solana.PublicKey
	UserVault      solana.PublicKey
	ProcessedBet   solana.PublicKey
	Processor      solana.PublicKey
}

// BuildPayout builds the instruction that pays a winning player from the
// casino vault.
func BuildPayout(programID solana.PublicKey, acc PayoutAccounts, amount uint64, betID string) solana.Instruction {
	data := encodeAmountAndBetID(payoutDiscriminator, amount, betID)

	metas := solana.AccountMetaSlice{
		solana.Meta(acc.UserVault).WRITE(),
		solana.Meta(acc.Casino).WRITE(),
		solana.Meta(acc.CasinoVault).WRITE(),
		solana.Meta(acc.VaultAuthority),
		solana.Meta(programID), // user_token_account placeholder
		solana.Meta(programID), // casino_token_account placeholder
		solana.Meta(acc.ProcessedBet),
		solana.Meta(acc.Processor).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}

	return solana.NewInstruction(programID, metas, data)
}
