// Package settlements is the typed client for the external settlements
// service: fetch pending game settlements and report status updates with
// optimistic versioning.
package settlements

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
)

// Client talks to the settlements service. Transport and 5xx failures are
// retried up to maxAttempts with exponential backoff; client errors never
// retry. A 409 means another worker updated the record first and surfaces as
// domain.ErrVersionConflict.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	sleep func(ctx context.Context, d time.Duration) // stubbed in tests
}

// NewClient constructs a Client with the default 10s per-call timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		sleep:      sleepCtx,
	}
}

// pendingResponse mirrors GET /api/settlement/pending.
type pendingResponse struct {
	Games      []domain.Settlement `json:"games"`
	NextCursor *string             `json:"next_cursor,omitempty"`
}

// UpdateRequest is the body of POST /api/settlement/games/<txId>. Version is
// mandatory; the service rejects mismatches with 409.
type UpdateRequest struct {
	Status          domain.SettlementStatus `json:"status"`
	SolanaTxID      *string                 `json:"solana_tx_id"`
	ErrorMessage    *string                 `json:"error_message"`
	ExpectedVersion uint64                  `json:"expected_version"`
	RetryCount      *uint32                 `json:"retry_count,omitempty"`
	NextRetryAfter  *int64                  `json:"next_retry_after,omitempty"`
}

// updateResponse mirrors the service's update reply.
type updateResponse struct {
	Success    bool   `json:"success"`
	NewVersion uint64 `json:"new_version"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// FetchPending returns up to limit pending settlements.
func (c *Client) FetchPending(ctx context.Context, limit int) ([]domain.Settlement, error) {
	url := fmt.Sprintf("%s/api/settlement/pending?limit=%d", c.baseURL, limit)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		games, retryable, err := c.fetchPendingOnce(ctx, url)
		if err == nil {
			return games, nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}

		backoff := backoffFor(attempt)
		slog.Warn("settlements fetch failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		c.sleep(ctx, backoff)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("settlements.FetchPending: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("settlements.FetchPending: %w", lastErr)
}

// UpdateStatus reports a settlement transition and returns the new version.
// 409 yields domain.ErrVersionConflict without retrying; other client errors
// also fail fast. Transport and 5xx failures retry with backoff.
func (c *Client) UpdateStatus(ctx context.Context, txID uint64, req UpdateRequest) (uint64, error) {
	url := fmt.Sprintf("%s/api/settlement/games/%s", c.baseURL, strconv.FormatUint(txID, 10))

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("settlements.UpdateStatus: marshal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		newVersion, retryable, err := c.updateOnce(ctx, url, body)
		if err == nil {
			return newVersion, nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}

		backoff := backoffFor(attempt)
		slog.Warn("settlements update failed, retrying",
			"tx_id", txID, "attempt", attempt, "backoff", backoff, "error", err)
		c.sleep(ctx, backoff)
		if ctx.Err() != nil {
			return 0, fmt.Errorf("settlements.UpdateStatus: %w", ctx.Err())
		}
	}
	return 0, fmt.Errorf("settlements.UpdateStatus: %w", lastErr)
}

// ──────────────────────────────────────────────────────────────────────────────
// Single attempts
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) fetchPendingOnce(ctx context.Context, url string) ([]domain.Settlement, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		retryable := resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("settlements api error %d: %s", resp.StatusCode, body)
	}

	var data pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, false, fmt.Errorf("parse response: %w", err)
	}
	return data.Games, false, nil
}

func (c *Client) updateOnce(ctx context.Context, url string, body []byte) (uint64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return 0, false, domain.ErrVersionConflict
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, domain.ErrSettlementNotFound
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return 0, true, fmt.Errorf("settlements api error %d: %s", resp.StatusCode, respBody)
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return 0, false, fmt.Errorf("settlements api error %d: %s", resp.StatusCode, respBody)
	}

	var data updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, false, fmt.Errorf("parse response: %w", err)
	}
	return data.NewVersion, false, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// backoffFor returns 2^(n−1) seconds for attempt n.
func backoffFor(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
