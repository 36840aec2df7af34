package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atomikwallet/settlement/internal/domain"
)

// Pool runs both worker fleets and tracks them with one WaitGroup so
// shutdown can wait for in-flight settlements (critical completion updates
// included) to drain.
type Pool struct {
	betWorkers        []*BetWorker
	settlementWorkers []*SettlementWorker

	coordinatorMode bool
	channels        []chan domain.SettlementBatch

	wg sync.WaitGroup
}

// NewPool assembles a pool. With coordinatorMode set, each settlement worker
// gets its own batch channel of capacity channelCap for the coordinator to
// feed; otherwise settlement workers poll the settlements service directly.
func NewPool(betWorkers []*BetWorker, settlementWorkers []*SettlementWorker, coordinatorMode bool, channelCap int) *Pool {
	p := &Pool{
		betWorkers:        betWorkers,
		settlementWorkers: settlementWorkers,
		coordinatorMode:   coordinatorMode,
	}
	if coordinatorMode {
		if channelCap < 1 {
			channelCap = 1
		}
		p.channels = make([]chan domain.SettlementBatch, len(settlementWorkers))
		for i := range p.channels {
			p.channels[i] = make(chan domain.SettlementBatch, channelCap)
		}
	}
	return p
}

// Channels returns the settlement workers' batch channels for the
// coordinator. Nil outside coordinator mode.
func (p *Pool) Channels() []chan<- domain.SettlementBatch {
	if !p.coordinatorMode {
		return nil
	}
	out := make([]chan<- domain.SettlementBatch, len(p.channels))
	for i, ch := range p.channels {
		out[i] = ch
	}
	return out
}

// Start launches every worker. Workers stop when ctx is cancelled; call Wait
// to block until they have drained.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("worker pool starting",
		"bet_workers", len(p.betWorkers),
		"settlement_workers", len(p.settlementWorkers),
		"coordinator_mode", p.coordinatorMode,
	)

	for _, w := range p.betWorkers {
		w := w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx)
		}()
	}

	for i, w := range p.settlementWorkers {
		i, w := i, w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if p.coordinatorMode {
				w.RunChannel(ctx, p.channels[i])
			} else {
				w.RunPolling(ctx)
			}
		}()
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	slog.Info("worker pool stopped")
}
