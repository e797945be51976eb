package store

import (
	"context"
	"encoding/json"
	"time"
)

// ActivityRecord is one journaled activity event. The journal is the
// audit trail of everything the session service did on a user's behalf.
type ActivityRecord struct {
	EventID    string          `db:"event_id" json:"event_id"`
	EventType  string          `db:"event_type" json:"event_type"`
	SessionKey string          `db:"session_key" json:"session_key,omitempty"`
	OrderID    string          `db:"order_id" json:"order_id,omitempty"`
	UserID     string          `db:"user_id" json:"user_id,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
	RecordedAt time.Time       `db:"recorded_at" json:"recorded_at"`
}

// AppendActivity journals an activity event. Inserts are idempotent on
// event id, so redelivered kafka messages are harmless.
func (s *Store) AppendActivity(ctx context.Context, rec *ActivityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_journal (event_id, event_type, session_key, order_id, user_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.SessionKey, rec.OrderID, rec.UserID, []byte(rec.Payload), rec.OccurredAt)
	return err
}

// RecentActivity retrieves the newest journal entries.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ActivityRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM activity_journal ORDER BY occurred_at DESC LIMIT $1", limit)
	return records, err
}

// ActivityByOrder retrieves the journal entries for one order's dispute.
func (s *Store) ActivityByOrder(ctx context.Context, orderID string) ([]ActivityRecord, error) {
	var records []ActivityRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM activity_journal WHERE order_id = $1 ORDER BY occurred_at ASC", orderID)
	return records, err
}

// IsEventJournaled checks whether an event id is already recorded.
func (s *Store) IsEventJournaled(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM activity_journal WHERE event_id = $1)", eventID)
	return exists, err
}
