// Package worker runs the processor's two worker fleets: bet workers that
// claim queued bets from the backend and settle them on-chain, and settlement
// workers that drive game settlements from the external settlements service
// through the vault program.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
)

const backendTimeout = 15 * time.Second

// BackendClient is the typed client for the backend's external processor API.
// Claiming is atomic on the backend side: every bet in the response is
// already marked batched under the returned batch id.
type BackendClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewBackendClient constructs a BackendClient. A trailing slash on baseURL is
// tolerated.
func NewBackendClient(baseURL, apiKey string) *BackendClient {
	return &BackendClient{
		httpClient: &http.Client{Timeout: backendTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// ClaimPending claims up to limit pending bets for processorID.
func (c *BackendClient) ClaimPending(ctx context.Context, limit int, processorID string) (domain.PendingBetsResponse, error) {
	var out domain.PendingBetsResponse

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("processor_id", processorID)
	endpoint := fmt.Sprintf("%s/api/external/bets/pending?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("worker.ClaimPending: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("worker.ClaimPending: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return out, fmt.Errorf("worker.ClaimPending: backend error %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("worker.ClaimPending: parse response: %w", err)
	}
	return out, nil
}

// UpdateBatch reports chunk-level progress and per-bet results for a claimed
// batch.
func (c *BackendClient) UpdateBatch(ctx context.Context, batchID uuid.UUID, update domain.UpdateBatchRequest) (domain.UpdateBatchResponse, error) {
	var out domain.UpdateBatchResponse

	body, err := json.Marshal(update)
	if err != nil {
		return out, fmt.Errorf("worker.UpdateBatch: marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/external/batches/%s", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("worker.UpdateBatch: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("worker.UpdateBatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return out, fmt.Errorf("worker.UpdateBatch: backend error %d: %s", resp.StatusCode, respBody)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("worker.UpdateBatch: parse response: %w", err)
	}
	return out, nil
}
