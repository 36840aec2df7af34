// Package retry holds the shared retry policy for failed bets and the
// transient-error classifier used by workers.
package retry

import (
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────────────────────────────────

// Defaults for the bet retry policy.
const (
	DefaultMaxRetries  = 5
	DefaultBackoffBase = 2000 * time.Millisecond
	DefaultBackoffMax  = 60000 * time.Millisecond
)

// Policy computes exponential backoff delays and decides when a bet has
// exhausted its retry budget.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultPolicy returns the standard bet retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		BackoffMax:  DefaultBackoffMax,
	}
}

// Backoff returns the delay before attempt n, where n is the retry count
// after incrementing (1-indexed). Formula: min(base · 2^(n−1), max).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Exhausted reports whether newRetryCount has passed the retry budget.
func (p Policy) Exhausted(newRetryCount int) bool {
	return newRetryCount > p.MaxRetries
}

// ──────────────────────────────────────────────────────────────────────────────
// Transient-error classification
// ──────────────────────────────────────────────────────────────────────────────

// transientMarkers are substrings that mark an error as transient. Chain and
// HTTP failures surface as strings from several layers, so classification is
// substring-based rather than type-based.
var transientMarkers = []string{
	"timeout",
	"connection",
	"network",
	"502",
	"503",
	"504",
	"rate limit",
	"blockhash not found",
}

// IsTransient reports whether err looks like a temporary failure worth
// retrying. A nil error is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
