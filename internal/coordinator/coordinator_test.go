package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
)

func makeSettlements(n int, outcome string) []domain.Settlement {
	out := make([]domain.Settlement, n)
	for i := range out {
		out[i] = domain.Settlement{TransactionID: uint64(i + 1), Outcome: outcome}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Packing
// ──────────────────────────────────────────────────────────────────────────────

func TestPackMergesUndersizedTail(t *testing.T) {
	// 25 settlements with max=12 split 12/12/1; the 1-wide tail is below
	// min=3 and merges into the previous batch.
	batches := pack(makeSettlements(25, domain.OutcomeWin), domain.BatchTypePayout, 3, 12)

	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[0].Settlements) != 12 {
		t.Errorf("first batch size = %d, want 12", len(batches[0].Settlements))
	}
	if len(batches[1].Settlements) != 13 {
		t.Errorf("second batch size = %d, want 13", len(batches[1].Settlements))
	}
}

func TestPackPreservesOrderAndLosesNothing(t *testing.T) {
	input := makeSettlements(29, domain.OutcomeLoss)
	batches := pack(input, domain.BatchTypeSpend, 3, 12)

	var flat []domain.Settlement
	for _, b := range batches {
		if b.Type != domain.BatchTypeSpend {
			t.Errorf("batch type = %s, want spend", b.Type)
		}
		flat = append(flat, b.Settlements...)
	}
	if len(flat) != len(input) {
		t.Fatalf("concat length = %d, want %d", len(flat), len(input))
	}
	for i := range input {
		if flat[i].TransactionID != input[i].TransactionID {
			t.Fatalf("order broken at %d: got tx %d, want %d", i, flat[i].TransactionID, input[i].TransactionID)
		}
	}
}

func TestPackSmallInputSingleBatch(t *testing.T) {
	// Below min size but it's the only batch, so it ships anyway.
	batches := pack(makeSettlements(2, domain.OutcomeWin), domain.BatchTypePayout, 3, 12)
	if len(batches) != 1 || len(batches[0].Settlements) != 2 {
		t.Errorf("batches = %+v, want one 2-wide batch", batches)
	}

	if got := pack(nil, domain.BatchTypePayout, 3, 12); got != nil {
		t.Errorf("empty input should produce no batches, got %v", got)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Partitioning
// ──────────────────────────────────────────────────────────────────────────────

func TestPartitionByOutcome(t *testing.T) {
	input := []domain.Settlement{
		{TransactionID: 1, Outcome: domain.OutcomeWin},
		{TransactionID: 2, Outcome: domain.OutcomeLoss},
		{TransactionID: 3, Outcome: domain.OutcomeWin},
		{TransactionID: 4, Outcome: "Push"}, // unknown, dropped
	}

	wins, losses := partitionByOutcome(input)
	if len(wins) != 2 || wins[0].TransactionID != 1 || wins[1].TransactionID != 3 {
		t.Errorf("wins = %+v", wins)
	}
	if len(losses) != 1 || losses[0].TransactionID != 2 {
		t.Errorf("losses = %+v", losses)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Cycle & fan-out
// ──────────────────────────────────────────────────────────────────────────────

type fakeFetcher struct {
	settlements []domain.Settlement
	err         error
}

func (f *fakeFetcher) FetchPending(context.Context, int) ([]domain.Settlement, error) {
	return f.settlements, f.err
}

func TestProcessCyclePartitionsAndFansOut(t *testing.T) {
	// 25 wins and 7 losses, min=3 max=12: Payout 12+13, Spend 7.
	input := append(makeSettlements(25, domain.OutcomeWin), makeSettlements(7, domain.OutcomeLoss)...)

	ch1 := make(chan domain.SettlementBatch, 4)
	ch2 := make(chan domain.SettlementBatch, 4)
	c := New(&fakeFetcher{settlements: input},
		[]chan<- domain.SettlementBatch{ch1, ch2},
		Config{FetchLimit: 100, BatchMinSize: 3, BatchMaxSize: 12})

	if err := c.processCycle(context.Background()); err != nil {
		t.Fatalf("processCycle: %v", err)
	}
	close(ch1)
	close(ch2)

	var fromW1, fromW2 []domain.SettlementBatch
	for b := range ch1 {
		fromW1 = append(fromW1, b)
	}
	for b := range ch2 {
		fromW2 = append(fromW2, b)
	}

	// Round-robin over 3 batches: worker 0 gets two, worker 1 gets one.
	if len(fromW1) != 2 || len(fromW2) != 1 {
		t.Fatalf("distribution = %d/%d, want 2/1", len(fromW1), len(fromW2))
	}

	all := append(fromW1, fromW2...)
	sizesByType := map[domain.SettlementBatchType][]int{}
	for _, b := range all {
		sizesByType[b.Type] = append(sizesByType[b.Type], len(b.Settlements))
	}
	if got := sizesByType[domain.BatchTypePayout]; len(got) != 2 || got[0]+got[1] != 25 {
		t.Errorf("payout batch sizes = %v, want two batches totaling 25", got)
	}
	if got := sizesByType[domain.BatchTypeSpend]; len(got) != 1 || got[0] != 7 {
		t.Errorf("spend batch sizes = %v, want [7]", got)
	}
}

func TestProcessCycleFetchErrorLeavesChannelsUntouched(t *testing.T) {
	ch := make(chan domain.SettlementBatch, 1)
	c := New(&fakeFetcher{err: errors.New("api down")},
		[]chan<- domain.SettlementBatch{ch},
		Config{FetchLimit: 10})

	if err := c.processCycle(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}
	select {
	case b := <-ch:
		t.Errorf("unexpected batch %v on failed cycle", b.ID)
	default:
	}
}

func TestDispatchBackpressureRespectsCancel(t *testing.T) {
	ch := make(chan domain.SettlementBatch) // unbuffered, nobody reading
	c := New(&fakeFetcher{}, []chan<- domain.SettlementBatch{ch}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.dispatch(ctx, domain.NewSettlementBatch(domain.BatchTypePayout, makeSettlements(1, domain.OutcomeWin)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
