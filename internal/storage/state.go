// Package storage keeps small JSON states in SQLite, keyed by kind and ID.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides versioned state storage with JSON payloads.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new state store on the resource_state table.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the payload and version of a state. A missing state returns a
// nil payload and version 0.
func (s *Store) Get(ctx context.Context, kind, id string) ([]byte, int64, error) {
	var payload string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payload, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(payload), version, nil
}

// Set stores a payload and bumps its version.
func (s *Store) Set(ctx context.Context, kind, id string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), s.now().UTC().Unix())
	if err != nil {
		return err
	}

	log.Debug().Str("kind", kind).Str("id", id).Msg("State stored")
	return nil
}

// Delete removes one state.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	return err
}

// Clear removes all states of a kind, or every state when kind is empty.
func (s *Store) Clear(ctx context.Context, kind string) (int64, error) {
	var res sql.Result
	var err error
	if kind == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM resource_state`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM resource_state WHERE kind = ?`, kind)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// All returns every payload of a kind.
func (s *Store) All(ctx context.Context, kind string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM resource_state WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		out[id] = []byte(payload)
	}
	return out, rows.Err()
}
