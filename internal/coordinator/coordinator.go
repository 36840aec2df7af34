// Package coordinator fetches pending settlements and distributes them to
// the settlement workers as size-bounded batches over per-worker channels.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/metrics"
)

// PendingFetcher is the slice of the settlements client the coordinator
// needs.
type PendingFetcher interface {
	FetchPending(ctx context.Context, limit int) ([]domain.Settlement, error)
}

// Batch sizing: the minimum amortizes per-transaction cost, the maximum
// keeps a batch under the Solana transaction size limit.
const (
	DefaultBatchMinSize = 3
	DefaultBatchMaxSize = 12
)

// Config controls one coordinator instance.
type Config struct {
	PollInterval time.Duration
	FetchLimit   int // settlements fetched per cycle
	BatchMinSize int
	BatchMaxSize int
}

// Coordinator owns the fetch → partition → pack → fan-out cycle. Sends into
// full worker channels block, so channel capacity backpressures the whole
// cycle.
type Coordinator struct {
	fetcher    PendingFetcher
	channels   []chan<- domain.SettlementBatch
	cfg        Config
	nextWorker int
}

// New creates a Coordinator feeding the given worker channels.
func New(fetcher PendingFetcher, channels []chan<- domain.SettlementBatch, cfg Config) *Coordinator {
	if cfg.BatchMinSize <= 0 {
		cfg.BatchMinSize = DefaultBatchMinSize
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = DefaultBatchMaxSize
	}
	return &Coordinator{fetcher: fetcher, channels: channels, cfg: cfg}
}

// Run executes coordinator cycles until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	slog.Info("coordinator starting",
		"poll_interval", c.cfg.PollInterval,
		"worker_count", len(c.channels),
		"batch_min", c.cfg.BatchMinSize,
		"batch_max", c.cfg.BatchMaxSize,
	)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := c.processCycle(ctx); err != nil {
			slog.Error("coordinator cycle failed", "error", err)
		}
		slog.Debug("coordinator cycle completed", "duration", time.Since(start))

		select {
		case <-ctx.Done():
			slog.Info("coordinator stopping")
			return
		case <-ticker.C:
		}
	}
}

// processCycle runs one fetch → partition → pack → distribute pass. A fetch
// failure aborts the cycle without touching worker channels.
func (c *Coordinator) processCycle(ctx context.Context) error {
	settlements, err := c.fetcher.FetchPending(ctx, c.cfg.FetchLimit)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		return nil
	}

	wins, losses := partitionByOutcome(settlements)
	slog.Info("fetched pending settlements",
		"total", len(settlements), "wins", len(wins), "losses", len(losses))

	batches := pack(wins, domain.BatchTypePayout, c.cfg.BatchMinSize, c.cfg.BatchMaxSize)
	batches = append(batches, pack(losses, domain.BatchTypeSpend, c.cfg.BatchMinSize, c.cfg.BatchMaxSize)...)

	for _, batch := range batches {
		if err := c.dispatch(ctx, batch); err != nil {
			return err
		}
		metrics.SettlementBatchesDistributed.Inc()
	}

	slog.Info("work distribution completed", "batches", len(batches))
	return nil
}

// dispatch sends one batch to the next worker round-robin, blocking while
// that worker's channel is full.
func (c *Coordinator) dispatch(ctx context.Context, batch domain.SettlementBatch) error {
	idx := c.nextWorker % len(c.channels)
	c.nextWorker++

	select {
	case c.channels[idx] <- batch:
		slog.Debug("batch sent to worker",
			"worker", idx, "batch_id", batch.ID, "settlements", len(batch.Settlements))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// partitionByOutcome splits settlements into wins and losses, preserving
// order. Unknown outcomes are dropped with a warning.
func partitionByOutcome(settlements []domain.Settlement) (wins, losses []domain.Settlement) {
	for _, s := range settlements {
		switch s.Outcome {
		case domain.OutcomeWin:
			wins = append(wins, s)
		case domain.OutcomeLoss:
			losses = append(losses, s)
		default:
			slog.Warn("unknown settlement outcome, skipping",
				"tx_id", s.TransactionID, "outcome", s.Outcome)
		}
	}
	return wins, losses
}

// pack splits settlements into order-preserving batches of at most maxSize.
// An undersized tail merges into the previous batch rather than producing a
// batch below minSize; a tail with no predecessor ships as-is.
func pack(settlements []domain.Settlement, t domain.SettlementBatchType, minSize, maxSize int) []domain.SettlementBatch {
	if len(settlements) == 0 {
		return nil
	}

	var batches []domain.SettlementBatch
	var current []domain.Settlement

	for _, s := range settlements {
		current = append(current, s)
		if len(current) >= maxSize {
			batches = append(batches, domain.NewSettlementBatch(t, current))
			current = nil
		}
	}

	if len(current) > 0 {
		if len(current) >= minSize || len(batches) == 0 {
			batches = append(batches, domain.NewSettlementBatch(t, current))
		} else {
			last := &batches[len(batches)-1]
			last.Settlements = append(last.Settlements, current...)
		}
	}

	return batches
}
