package settlements

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atomikwallet/settlement/internal/domain"
)

// newTestClient wires a client to srv with sleeps disabled.
func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, "test-key")
	c.sleep = func(context.Context, time.Duration) {}
	return c
}

func TestFetchPendingParsesGames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settlement/pending" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("limit") != "50" {
			t.Errorf("limit = %s, want 50", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"games":[
			{"transaction_id":7,"player_address":"PlayerA","game_type":"coinflip",
			 "bet_amount":100000000,"token":"SOL","outcome":"Win","payout":200000000,
			 "vrf_proof":"p","vrf_output":"o","block_height":123,"version":4}
		],"next_cursor":null}`))
	}))
	defer srv.Close()

	games, err := newTestClient(srv).FetchPending(context.Background(), 50)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("len = %d, want 1", len(games))
	}
	g := games[0]
	if g.TransactionID != 7 || g.Version != 4 || !g.IsWin() || g.Payout != 200000000 {
		t.Errorf("parsed settlement mismatch: %+v", g)
	}
	if g.SolanaTxID != nil {
		t.Error("solana_tx_id should be absent")
	}
}

func TestFetchPendingRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"games":[]}`))
	}))
	defer srv.Close()

	games, err := newTestClient(srv).FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if games != nil && len(games) != 0 {
		t.Errorf("games = %v, want empty", games)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetchPendingGivesUpAfterThreeAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).FetchPending(context.Background(), 10); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetchPendingDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).FetchPending(context.Background(), 10); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestUpdateStatusReturnsNewVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settlement/games/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte(`{"success":true,"new_version":6}`))
	}))
	defer srv.Close()

	sig := "sig123"
	v, err := newTestClient(srv).UpdateStatus(context.Background(), 42, UpdateRequest{
		Status:          domain.SettlementComplete,
		SolanaTxID:      &sig,
		ExpectedVersion: 5,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if v != 6 {
		t.Errorf("new version = %d, want 6", v)
	}
}

func TestUpdateStatusConflictFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).UpdateStatus(context.Background(), 1, UpdateRequest{
		Status:          domain.SettlementComplete,
		ExpectedVersion: 3,
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (conflicts never retry)", calls)
	}
}

func TestUpdateStatusRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true,"new_version":2}`))
	}))
	defer srv.Close()

	v, err := newTestClient(srv).UpdateStatus(context.Background(), 9, UpdateRequest{
		Status:          domain.SettlementFailed,
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if v != 2 || calls != 2 {
		t.Errorf("version = %d, calls = %d; want 2, 2", v, calls)
	}
}

func TestBackoffFor(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := backoffFor(i + 1); got != w {
			t.Errorf("backoffFor(%d) = %v, want %v", i+1, got, w)
		}
	}
}
