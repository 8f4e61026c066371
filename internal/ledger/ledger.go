// Package ledger provides the append-only sample and entry history.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventSampleCompleted EventType = "sample_completed"
	EventSampleFailed    EventType = "sample_failed"
	EventEntryCreated    EventType = "entry_created"
	EventEntryUpdated    EventType = "entry_updated"
	EventEntryRemoved    EventType = "entry_removed"
)

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 100

// Record is a single event in the ledger
type Record struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	EntryID   string         `json:"entry_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, entryID string, payload map[string]any) error {
	return l.AppendWithSource(eventType, entryID, "", payload)
}

// AppendWithSource adds a new event together with what triggered it
// (poll, refresh, flow, config).
func (l *Ledger) AppendWithSource(eventType EventType, entryID, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, entry_id, timestamp, payload, source) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), entryID, l.now().UTC().UnixMilli(), string(payloadJSON), source,
	)
	return err
}

// History returns the newest events of an entry, newest first.
func (l *Ledger) History(entryID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := l.db.Query(`
		SELECT id, event_type, entry_id, timestamp, payload, source
		FROM event_ledger
		WHERE entry_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, entryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByType returns events of one type across entries, newest first.
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := l.db.Query(`
		SELECT id, event_type, entry_id, timestamp, payload, source
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		var payloadStr, source sql.NullString
		var timestamp int64

		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.EntryID, &timestamp, &payloadStr, &source); err != nil {
			return nil, err
		}

		rec.Timestamp = time.UnixMilli(timestamp).UTC()
		rec.Source = source.String

		if payloadStr.Valid && payloadStr.String != "" {
			rec.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &rec.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}
