// Package breaker provides the per-worker circuit breaker guarding the chain
// gateway.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
)

// State of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Defaults match the processor configuration.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Breaker is a closed/open/half-open gate. Consecutive failures at or above
// the threshold open it; after the reset timeout one probe call is allowed
// through (half-open), and its outcome decides between Closed and Open.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	threshold    int
	resetTimeout time.Duration
	now          func() time.Time // stubbed in tests
}

// New creates a breaker. Non-positive arguments fall back to the defaults.
func New(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		state:        Closed,
		threshold:    failureThreshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Call runs op behind the breaker. When the breaker is open and the reset
// timeout has not elapsed, op is not attempted and domain.ErrCircuitOpen is
// returned.
func (b *Breaker) Call(op func() error) error {
	if !b.allow() {
		return domain.ErrCircuitOpen
	}

	if err := op(); err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current state, promoting Open to HalfOpen when the reset
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFailure) > b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// allow decides whether a call may proceed, transitioning Open → HalfOpen
// after the reset timeout.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.resetTimeout {
		b.state = HalfOpen
		slog.Info("circuit breaker transitioning to half-open")
		return true
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == HalfOpen {
		b.state = Closed
		slog.Info("circuit breaker closed after successful probe")
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold || b.state == HalfOpen {
		if b.state != Open {
			slog.Warn("circuit breaker opened", "failures", b.failures)
		}
		b.state = Open
	}
}
