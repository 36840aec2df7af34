// Package audit writes the append-only bet lifecycle log. Redis holds the
// live queue with a TTL; the audit log in Postgres is the durable record of
// every transition for operators and compliance.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types recorded by the pipeline.
const (
	EventBetCreated       = "bet_created"
	EventBetClaimed       = "bet_claimed"
	EventBetStatusChanged = "bet_status_changed"
	EventBetCompleted     = "bet_completed"
	EventBetFailed        = "bet_failed"
	EventBatchUpdated     = "batch_updated"
)

// Entry is one row of the audit_log table.
type Entry struct {
	ID          int64           `db:"id" json:"id"`
	EventTime   time.Time       `db:"event_time" json:"event_time"`
	EventType   string          `db:"event_type" json:"event_type"`
	AggregateID string          `db:"aggregate_id" json:"aggregate_id"`
	UserID      *string         `db:"user_id" json:"user_id,omitempty"`
	BeforeState json.RawMessage `db:"before_state" json:"before_state,omitempty"`
	AfterState  json.RawMessage `db:"after_state" json:"after_state,omitempty"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Actor       string          `db:"actor" json:"actor"`
}

// Recorder is what the rest of the codebase logs events against. A nil check
// is never needed: use Nop when no database is configured.
type Recorder interface {
	LogEvent(ctx context.Context, e Entry) error
}

// Log is the Postgres-backed Recorder. Inserts only; rows are never updated
// or deleted from here.
type Log struct {
	db *sqlx.DB
}

// NewLog creates a Postgres audit log.
func NewLog(db *sqlx.DB) *Log {
	return &Log{db: db}
}

// LogEvent appends one entry. EventTime is stamped here; a caller-supplied
// value is ignored.
func (l *Log) LogEvent(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO audit_log
			(event_time, event_type, aggregate_id, user_id, before_state, after_state, metadata, actor)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := l.db.ExecContext(ctx, query,
		time.Now().UTC(), e.EventType, e.AggregateID, e.UserID,
		e.BeforeState, e.AfterState, e.Metadata, e.Actor)
	if err != nil {
		return fmt.Errorf("audit.LogEvent: %w", err)
	}
	return nil
}

// History returns the newest entries for one aggregate, newest first.
func (l *Log) History(ctx context.Context, aggregateID string, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries, `
		SELECT id, event_time, event_type, aggregate_id, user_id,
		       before_state, after_state, metadata, actor
		FROM audit_log
		WHERE aggregate_id = $1
		ORDER BY event_time DESC, id DESC
		LIMIT $2`,
		aggregateID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit.History: %w", err)
	}
	return entries, nil
}

// Snapshot marshals v for a before/after field. Marshal failures yield nil
// rather than blocking the transition being audited.
func Snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Nop discards every event. Used when AUDIT_DB_DSN is unset.
type Nop struct{}

func (Nop) LogEvent(context.Context, Entry) error { return nil }
