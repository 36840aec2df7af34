package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/atomikwallet/settlement/internal/domain"
)

// healthProbeInterval bounds how often one endpoint is re-probed.
const healthProbeInterval = 60 * time.Second

// endpoint is one RPC node with health bookkeeping.
type endpoint struct {
	client    *rpc.Client
	url       string
	healthy   bool
	lastProbe time.Time
}

// Pool is a round-robin set of RPC endpoints with lazy health checks. A
// failed submission marks its endpoint unhealthy; the periodic probe loop
// restores it once the node answers again.
type Pool struct {
	mu        sync.Mutex
	endpoints []*endpoint
	next      int
}

// NewPool builds a pool over the given RPC URLs. All endpoints start healthy.
func NewPool(rpcURLs []string) *Pool {
	eps := make([]*endpoint, 0, len(rpcURLs))
	now := time.Now()
	for _, url := range rpcURLs {
		eps = append(eps, &endpoint{
			client:    rpc.New(url),
			url:       url,
			healthy:   true,
			lastProbe: now,
		})
	}
	return &Pool{endpoints: eps}
}

// GetClient returns the next endpoint round-robin, healthy or not. Callers
// that need a working node use GetHealthyClient.
func (p *Pool) GetClient() (*rpc.Client, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.endpoints[p.next]
	p.next = (p.next + 1) % len(p.endpoints)
	return ep.client, ep.url
}

// GetHealthyClient returns the first healthy endpoint, or
// domain.ErrNoHealthyRPC when every node is marked down.
func (p *Pool) GetHealthyClient() (*rpc.Client, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.healthy {
			return ep.client, ep.url, nil
		}
	}
	return nil, "", domain.ErrNoHealthyRPC
}

// MarkUnhealthy flags one endpoint after a failed call.
func (p *Pool) MarkUnhealthy(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.url == url && ep.healthy {
			ep.healthy = false
			slog.Warn("marked rpc endpoint unhealthy", "url", url)
			return
		}
	}
}

// HealthCheckAll probes endpoints whose last probe is older than the probe
// interval and updates their health flags.
func (p *Pool) HealthCheckAll(ctx context.Context) {
	p.mu.Lock()
	due := make([]*endpoint, 0, len(p.endpoints))
	now := time.Now()
	for _, ep := range p.endpoints {
		if now.Sub(ep.lastProbe) > healthProbeInterval {
			ep.lastProbe = now
			due = append(due, ep)
		}
	}
	p.mu.Unlock()

	for _, ep := range due {
		out, err := ep.client.GetHealth(ctx)
		healthy := err == nil && out == rpc.HealthOk

		p.mu.Lock()
		ep.healthy = healthy
		p.mu.Unlock()

		if healthy {
			slog.Debug("rpc endpoint healthy", "url", ep.url)
		} else {
			slog.Warn("rpc endpoint health check failed", "url", ep.url, "error", err)
		}
	}
}

// HealthyCount returns how many endpoints are currently marked healthy.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ep := range p.endpoints {
		if ep.healthy {
			n++
		}
	}
	return n
}
