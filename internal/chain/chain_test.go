package chain

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
)

var testProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

// ──────────────────────────────────────────────────────────────────────────────
// PDA seeds
// ──────────────────────────────────────────────────────────────────────────────

func TestBetIDSeedStripsHyphens(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	seed := BetIDSeed(id)
	if seed != "550e8400e29b41d4a716446655440000" {
		t.Errorf("BetIDSeed = %q", seed)
	}
	if len(seed) != 32 {
		t.Errorf("seed length = %d, want 32", len(seed))
	}
}

func TestPayoutBetIDSeedUnderSeedLimit(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	seed := PayoutBetIDSeed(id)
	if seed != "payout550e8400e29b41d4a716446655" {
		t.Errorf("PayoutBetIDSeed = %q", seed)
	}
	if len(seed) > 32 {
		t.Errorf("seed length = %d, exceeds 32-byte PDA limit", len(seed))
	}
}

func TestSettlementBetIDSeed(t *testing.T) {
	if got := SettlementBetIDSeed(42); got != "bet-42" {
		t.Errorf("SettlementBetIDSeed = %q", got)
	}
}

func TestPDADerivationIsDeterministic(t *testing.T) {
	casino1, err := DeriveCasinoPDA(testProgramID)
	if err != nil {
		t.Fatalf("DeriveCasinoPDA: %v", err)
	}
	casino2, _ := DeriveCasinoPDA(testProgramID)
	if !casino1.Equals(casino2) {
		t.Error("casino PDA derivation must be deterministic")
	}

	user := solana.NewWallet().PublicKey()
	vault1, err := DeriveUserVaultPDA(user, casino1, testProgramID)
	if err != nil {
		t.Fatalf("DeriveUserVaultPDA: %v", err)
	}
	vault2, _ := DeriveUserVaultPDA(user, casino1, testProgramID)
	if !vault1.Equals(vault2) {
		t.Error("user vault PDA derivation must be deterministic")
	}

	otherUser := solana.NewWallet().PublicKey()
	otherVault, _ := DeriveUserVaultPDA(otherUser, casino1, testProgramID)
	if vault1.Equals(otherVault) {
		t.Error("different users must derive different vaults")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Instruction encoding
// ──────────────────────────────────────────────────────────────────────────────

func TestEncodeAmountAndBetID(t *testing.T) {
	data := encodeAmountAndBetID(payoutDiscriminator, 200_000_000, "bet-7")

	if len(data) != 8+8+4+5 {
		t.Fatalf("data length = %d, want 25", len(data))
	}
	for i, b := range payoutDiscriminator {
		if data[i] != b {
			t.Fatalf("discriminator byte %d = %d, want %d", i, data[i], b)
		}
	}
	if amount := binary.LittleEndian.Uint64(data[8:16]); amount != 200_000_000 {
		t.Errorf("amount = %d", amount)
	}
	if n := binary.LittleEndian.Uint32(data[16:20]); n != 5 {
		t.Errorf("bet id length prefix = %d, want 5", n)
	}
	if string(data[20:]) != "bet-7" {
		t.Errorf("bet id bytes = %q", data[20:])
	}
}

func TestBuildPayoutAccountLayout(t *testing.T) {
	casino, _ := DeriveCasinoPDA(testProgramID)
	processor := solana.NewWallet().PublicKey()

	ix := BuildPayout(testProgramID, PayoutAccounts{
		Casino:    casino,
		Processor: processor,
	}, 100, "bet-1")

	if !ix.ProgramID().Equals(testProgramID) {
		t.Error("wrong program id")
	}
	accounts := ix.Accounts()
	if len(accounts) != 9 {
		t.Fatalf("account count = %d, want 9", len(accounts))
	}
	// Optional token slots carry program-id placeholders for native SOL.
	if !accounts[4].PublicKey.Equals(testProgramID) || !accounts[5].PublicKey.Equals(testProgramID) {
		t.Error("token account placeholders must be the program id")
	}
	// The processor is the only signer.
	for i, acc := range accounts {
		wantSigner := i == 7
		if acc.IsSigner != wantSigner {
			t.Errorf("account %d signer = %v, want %v", i, acc.IsSigner, wantSigner)
		}
	}
	if !accounts[8].PublicKey.Equals(solana.SystemProgramID) {
		t.Error("last account must be the system program")
	}
}

func TestBuildSpendFromAllowanceNativeSOL(t *testing.T) {
	processor := solana.NewWallet().PublicKey()

	ix := BuildSpendFromAllowance(testProgramID, SpendAccounts{
		Processor: processor,
	}, 50, "abc")

	accounts := ix.Accounts()
	if len(accounts) != 11 {
		t.Fatalf("account count = %d, want 11", len(accounts))
	}
	// Native SOL mode: token slots and token program are placeholders, and
	// the placeholders stay writable so optional-account detection works.
	for _, i := range []int{6, 7} {
		if !accounts[i].PublicKey.Equals(testProgramID) {
			t.Errorf("account %d must be the program id placeholder", i)
		}
		if !accounts[i].IsWritable {
			t.Errorf("placeholder %d must be writable", i)
		}
	}
	if !accounts[10].PublicKey.Equals(testProgramID) {
		t.Error("token program slot must be the program id placeholder")
	}
	if !accounts[8].IsSigner {
		t.Error("processor must sign")
	}

	data, err := ix.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	for i, b := range spendFromAllowanceDiscriminator {
		if data[i] != b {
			t.Fatalf("discriminator mismatch at byte %d", i)
		}
	}
}

func TestBuildSpendFromAllowanceSPLMode(t *testing.T) {
	userTA := solana.NewWallet().PublicKey()
	casinoTA := solana.NewWallet().PublicKey()

	ix := BuildSpendFromAllowance(testProgramID, SpendAccounts{
		UserTokenAccount:   &userTA,
		CasinoTokenAccount: &casinoTA,
	}, 50, "abc")

	accounts := ix.Accounts()
	if !accounts[6].PublicKey.Equals(userTA) || !accounts[7].PublicKey.Equals(casinoTA) {
		t.Error("SPL mode must carry the real token accounts")
	}
	if !accounts[10].PublicKey.Equals(solana.TokenProgramID) {
		t.Error("SPL mode must reference the token program")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Account parsing
// ──────────────────────────────────────────────────────────────────────────────

func TestParseNonceRegistryNextNonce(t *testing.T) {
	data := make([]byte, 81)
	binary.LittleEndian.PutUint64(data[72:80], 42)

	n, err := ParseNonceRegistryNextNonce(data)
	if err != nil {
		t.Fatalf("ParseNonceRegistryNextNonce: %v", err)
	}
	if n != 42 {
		t.Errorf("next_nonce = %d, want 42", n)
	}

	if _, err := ParseNonceRegistryNextNonce(make([]byte, 50)); err == nil {
		t.Error("short data must fail")
	}
}

func TestParseAllowanceTokenMint(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	data := make([]byte, 105)
	copy(data[72:104], mint.Bytes())

	got, err := ParseAllowanceTokenMint(data)
	if err != nil {
		t.Fatalf("ParseAllowanceTokenMint: %v", err)
	}
	if !got.Equals(mint) {
		t.Errorf("mint = %s, want %s", got, mint)
	}

	if _, err := ParseAllowanceTokenMint(make([]byte, 50)); err == nil {
		t.Error("short data must fail")
	}
}

func TestIsNativeSOLMint(t *testing.T) {
	if !IsNativeSOLMint(solana.PublicKey{}) {
		t.Error("zero mint is native SOL")
	}
	if !IsNativeSOLMint(solana.SystemProgramID) {
		t.Error("system program mint is native SOL")
	}
	if IsNativeSOLMint(solana.NewWallet().PublicKey()) {
		t.Error("random mint is not native SOL")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool
// ──────────────────────────────────────────────────────────────────────────────

func TestPoolRoundRobin(t *testing.T) {
	p := NewPool([]string{"http://rpc-a", "http://rpc-b"})

	_, url1 := p.GetClient()
	_, url2 := p.GetClient()
	_, url3 := p.GetClient()
	if url1 != "http://rpc-a" || url2 != "http://rpc-b" || url3 != "http://rpc-a" {
		t.Errorf("round robin order: %s %s %s", url1, url2, url3)
	}
}

func TestPoolHealthTracking(t *testing.T) {
	p := NewPool([]string{"http://rpc-a", "http://rpc-b"})
	if p.HealthyCount() != 2 {
		t.Fatalf("HealthyCount = %d, want 2", p.HealthyCount())
	}

	p.MarkUnhealthy("http://rpc-a")
	if p.HealthyCount() != 1 {
		t.Errorf("HealthyCount = %d, want 1", p.HealthyCount())
	}

	_, url, err := p.GetHealthyClient()
	if err != nil {
		t.Fatalf("GetHealthyClient: %v", err)
	}
	if url != "http://rpc-b" {
		t.Errorf("healthy client url = %s, want rpc-b", url)
	}

	p.MarkUnhealthy("http://rpc-b")
	if _, _, err := p.GetHealthyClient(); err != domain.ErrNoHealthyRPC {
		t.Errorf("err = %v, want ErrNoHealthyRPC", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Gateway simulation mode
// ──────────────────────────────────────────────────────────────────────────────

func newSimGateway(coinflip func() bool) *Gateway {
	signer := solana.NewWallet().PrivateKey
	g := NewGateway(NewPool([]string{"http://unused"}), signer, testProgramID, true)
	if coinflip != nil {
		g.coinflip = coinflip
	}
	return g
}

func TestSimulatedBetBatch(t *testing.T) {
	g := newSimGateway(func() bool { return true })

	bets := []domain.Bet{
		{ID: uuid.New(), StakeAmount: 100},
		{ID: uuid.New(), StakeAmount: 250},
	}
	sig, outcomes, err := g.SubmitBetBatch(context.Background(), bets, 10)
	if err != nil {
		t.Fatalf("SubmitBetBatch: %v", err)
	}
	if !IsSimulatedSignature(sig) {
		t.Errorf("signature %q should carry the SIM_ prefix", sig)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for i, o := range outcomes {
		if !o.Won {
			t.Errorf("outcome %d should be a win with rigged coinflip", i)
		}
		if o.Payout != bets[i].StakeAmount*2 {
			t.Errorf("payout = %d, want %d (2×stake)", o.Payout, bets[i].StakeAmount*2)
		}
	}
}

func TestSimulatedBetBatchLosses(t *testing.T) {
	g := newSimGateway(func() bool { return false })

	_, outcomes, err := g.SubmitBetBatch(context.Background(), []domain.Bet{{ID: uuid.New(), StakeAmount: 100}}, 10)
	if err != nil {
		t.Fatalf("SubmitBetBatch: %v", err)
	}
	if outcomes[0].Won || outcomes[0].Payout != 0 {
		t.Errorf("loss outcome = %+v, want lost with zero payout", outcomes[0])
	}
}

func TestSubmitBetBatchRejectsOversizedBatch(t *testing.T) {
	g := newSimGateway(nil)
	bets := make([]domain.Bet, 11)
	for i := range bets {
		bets[i] = domain.Bet{ID: uuid.New(), StakeAmount: 1}
	}
	if _, _, err := g.SubmitBetBatch(context.Background(), bets, 10); err == nil {
		t.Error("oversized batch must be rejected")
	}
}

func TestSimulatedSettlementOps(t *testing.T) {
	g := newSimGateway(nil)
	s := domain.Settlement{TransactionID: 9, PlayerAddress: "x", Payout: 100, BetAmount: 50}

	sig, err := g.SubmitPayout(context.Background(), s)
	if err != nil || !IsSimulatedSignature(sig) {
		t.Errorf("SubmitPayout = (%q, %v)", sig, err)
	}
	sig, err = g.SubmitSpend(context.Background(), s)
	if err != nil || !IsSimulatedSignature(sig) {
		t.Errorf("SubmitSpend = (%q, %v)", sig, err)
	}

	status, err := g.GetSignatureStatus(context.Background(), sig)
	if err != nil || status != StatusConfirmed {
		t.Errorf("simulated signature status = (%v, %v), want confirmed", status, err)
	}
}
