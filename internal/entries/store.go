// Package entries persists configuration entries.
package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/entry"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrStaticEntry   = errors.New("entry is declared in the config file")
)

// Store keeps entries created at runtime in SQLite and entries declared in
// the config file in memory. Static entries shadow stored ones with the
// same ID.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	static map[string]*entry.Entry
}

// NewStore creates a new entry store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		static: make(map[string]*entry.Entry),
	}
}

// SetStatic replaces the set of config file entries.
func (s *Store) SetStatic(list []*entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.static = make(map[string]*entry.Entry, len(list))
	for _, e := range list {
		e.Static = true
		s.static[e.ID] = e
	}
}

// List returns all entries ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*entry.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, title, data, options, version, created_at, updated_at
		FROM config_entries
		ORDER BY created_at, entry_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if _, shadowed := s.static[e.ID]; shadowed {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	static := make([]*entry.Entry, 0, len(s.static))
	for _, e := range s.static {
		static = append(static, e)
	}
	sort.Slice(static, func(i, j int) bool { return static[i].ID < static[j].ID })

	return append(static, out...), nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, id string) (*entry.Entry, error) {
	s.mu.RLock()
	e, ok := s.static[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, title, data, options, version, created_at, updated_at
		FROM config_entries WHERE entry_id = ?
	`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, err
}

// Create stores a new entry under a fresh ID.
func (s *Store) Create(ctx context.Context, title string, data entry.Data) (*entry.Entry, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	now := s.now().UTC()
	e := &entry.Entry{
		ID:        uuid.NewString(),
		Title:     title,
		Data:      data,
		Options:   entry.Data{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_entries (entry_id, title, data, options, version, created_at, updated_at)
		VALUES (?, ?, ?, '{}', 1, ?, ?)
	`, e.ID, title, string(dataJSON), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	log.Debug().Str("entry_id", e.ID).Str("title", title).Msg("Entry stored")
	return e, nil
}

// UpdateOptions replaces the options of an entry and bumps its version.
func (s *Store) UpdateOptions(ctx context.Context, id string, options entry.Data) (*entry.Entry, error) {
	if s.isStatic(id) {
		return nil, ErrStaticEntry
	}
	if options == nil {
		options = entry.Data{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE config_entries
		SET options = ?, version = version + 1, updated_at = ?
		WHERE entry_id = ?
	`, string(optionsJSON), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update options: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	return s.Get(ctx, id)
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.isStatic(id) {
		return ErrStaticEntry
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE entry_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

// Clear removes every stored entry. Static entries are not affected.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) isStatic(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.static[id]
	return ok
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*entry.Entry, error) {
	var e entry.Entry
	var dataStr, optionsStr string
	var created, updated int64

	if err := row.Scan(&e.ID, &e.Title, &dataStr, &optionsStr, &e.Version, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataStr), &e.Data); err != nil {
		return nil, fmt.Errorf("entry %s: failed to unmarshal data: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(optionsStr), &e.Options); err != nil {
		return nil, fmt.Errorf("entry %s: failed to unmarshal options: %w", e.ID, err)
	}
	if e.Options == nil {
		e.Options = entry.Data{}
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}
