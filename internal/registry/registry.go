// Package registry runs the coordinators of all entries.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/coordinator"
	"github.com/dokzlo13/indoorsun/internal/entity"
	"github.com/dokzlo13/indoorsun/internal/entries"
	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
)

// EntryState describes whether an entry is running.
type EntryState string

const (
	StateLoading    EntryState = "loading"
	StateLoaded     EntryState = "loaded"
	StateSetupError EntryState = "setup_error"
	StateNotLoaded  EntryState = "not_loaded"
)

// ErrEntryNotLoaded is returned when an entry has no running coordinator.
var ErrEntryNotLoaded = errors.New("entry is not loaded")

// EntryStatus is an entry together with its runtime state.
type EntryStatus struct {
	*entry.Entry
	State  EntryState `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

type loadedEntry struct {
	entry    *entry.Entry
	coord    *coordinator.Coordinator
	entities []entity.Entity
	state    EntryState
	reason   string

	cancel context.CancelFunc
	done   chan struct{}
}

func (le *loadedEntry) stop() {
	if le.cancel == nil {
		return
	}
	le.cancel()
	<-le.done
}

// Registry runs one coordinator per entry and exposes their entities. It
// also persists flow results, so entries created or changed through a flow
// are (re)loaded immediately.
type Registry struct {
	store       *entries.Store
	fetcher     coordinator.Fetcher
	bus         *eventbus.Bus
	pollTimeout time.Duration

	// opMu serializes load and unload; mu guards the map.
	opMu   sync.Mutex
	mu     sync.RWMutex
	ctx    context.Context
	loaded map[string]*loadedEntry
}

// New creates a new Registry. bus may be nil.
func New(store *entries.Store, fetcher coordinator.Fetcher, bus *eventbus.Bus, pollTimeout time.Duration) *Registry {
	return &Registry{
		store:       store,
		fetcher:     fetcher,
		bus:         bus,
		pollTimeout: pollTimeout,
		ctx:         context.Background(),
		loaded:      make(map[string]*loadedEntry),
	}
}

// Start loads every stored entry. Coordinators live until ctx is cancelled
// or Close is called.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	list, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	failed := 0
	for _, e := range list {
		if le := r.loadLocked(ctx, e); le.state != StateLoaded {
			failed++
		}
	}
	log.Info().Int("entries", len(list)).Int("failed", failed).Msg("Entries loaded")
	return nil
}

func (r *Registry) baseContext() context.Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ctx
}

// loadLocked sets up an entry. A failing first refresh leaves the entry in
// setup_error without a running coordinator. The entry is visible as
// loading while the first refresh runs, so its title resolves for the
// events that refresh publishes. Caller holds opMu.
func (r *Registry) loadLocked(ctx context.Context, e *entry.Entry) *loadedEntry {
	r.setLoaded(e.ID, &loadedEntry{entry: e, state: StateLoading})

	le := &loadedEntry{entry: e, state: StateSetupError}
	defer r.setLoaded(e.ID, le)

	settings, err := e.Settings()
	if err != nil {
		le.reason = err.Error()
		log.Error().Err(err).Str("entry_id", e.ID).Msg("Invalid entry settings")
		return le
	}

	var pub coordinator.Publisher
	if r.bus != nil {
		pub = r.bus
	}
	coord := coordinator.New(e.ID, settings, r.fetcher, pub, coordinator.WithTimeout(r.pollTimeout))
	if err := coord.FirstRefresh(ctx); err != nil {
		le.reason = err.Error()
		log.Warn().Err(err).Str("entry_id", e.ID).Str("title", e.Title).Msg("Entry setup failed, will retry on reload")
		return le
	}

	runCtx, cancel := context.WithCancel(r.baseContext())
	le.coord = coord
	le.entities = entity.ForEntry(e, settings, coord)
	le.state = StateLoaded
	le.reason = ""
	le.cancel = cancel
	le.done = make(chan struct{})

	go func() {
		defer close(le.done)
		coord.Run(runCtx)
	}()

	log.Info().
		Str("entry_id", e.ID).
		Str("title", e.Title).
		Str("url", coord.ImageURL()).
		Int("entities", len(le.entities)).
		Msg("Entry loaded")
	return le
}

func (r *Registry) setLoaded(id string, le *loadedEntry) {
	r.mu.Lock()
	r.loaded[id] = le
	r.mu.Unlock()
}

// unloadLocked stops the coordinator of an entry. Caller holds opMu.
func (r *Registry) unloadLocked(id string) {
	r.mu.Lock()
	le, ok := r.loaded[id]
	delete(r.loaded, id)
	r.mu.Unlock()

	if ok {
		le.stop()
	}
}

// Reload re-reads an entry from the store and sets it up again.
func (r *Registry) Reload(ctx context.Context, id string) (EntryStatus, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return EntryStatus{}, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.unloadLocked(id)
	le := r.loadLocked(ctx, e)
	return statusOf(e, le), nil
}

// Remove deletes an entry and stops its coordinator.
func (r *Registry) Remove(ctx context.Context, id string) error {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.opMu.Lock()
	r.unloadLocked(id)
	r.opMu.Unlock()

	log.Info().Str("entry_id", id).Str("title", e.Title).Msg("Entry removed")
	r.publish(eventbus.EventTypeEntryRemoved, id, map[string]any{"title": e.Title})
	return nil
}

// Refresh polls an entry now. Entries in setup_error are set up again.
func (r *Registry) Refresh(ctx context.Context, id string) (coordinator.Snapshot, error) {
	r.mu.RLock()
	le, ok := r.loaded[id]
	r.mu.RUnlock()

	if !ok || le.state != StateLoaded {
		status, err := r.Reload(ctx, id)
		if err != nil {
			return coordinator.Snapshot{}, err
		}
		if status.State != StateLoaded {
			return coordinator.Snapshot{EntryID: id, LastError: status.Reason}, errors.New(status.Reason)
		}
		return r.Snapshot(id)
	}

	err := le.coord.Refresh(ctx)
	return le.coord.Snapshot(), err
}

// RequestRefresh asks a loaded entry to poll on its own goroutine. It
// reports false for unknown or unloaded entries.
func (r *Registry) RequestRefresh(id string) bool {
	r.mu.RLock()
	le, ok := r.loaded[id]
	r.mu.RUnlock()

	if !ok || le.coord == nil {
		return false
	}
	le.coord.RequestRefresh()
	return true
}

// Snapshot returns the coordinator state of a loaded entry.
func (r *Registry) Snapshot(id string) (coordinator.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	le, ok := r.loaded[id]
	if !ok || le.coord == nil {
		return coordinator.Snapshot{}, ErrEntryNotLoaded
	}
	return le.coord.Snapshot(), nil
}

// Status returns an entry with its runtime state.
func (r *Registry) Status(ctx context.Context, id string) (EntryStatus, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return EntryStatus{}, err
	}
	r.mu.RLock()
	le := r.loaded[id]
	r.mu.RUnlock()
	return statusOf(e, le), nil
}

// Statuses lists all entries with their runtime state.
func (r *Registry) Statuses(ctx context.Context) ([]EntryStatus, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EntryStatus, 0, len(list))
	for _, e := range list {
		out = append(out, statusOf(e, r.loaded[e.ID]))
	}
	return out, nil
}

func statusOf(e *entry.Entry, le *loadedEntry) EntryStatus {
	if le == nil {
		return EntryStatus{Entry: e, State: StateNotLoaded}
	}
	return EntryStatus{Entry: e, State: le.state, Reason: le.reason}
}

// Entities returns all entities of loaded entries, sorted by ID.
func (r *Registry) Entities() []entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entity.Entity
	for _, le := range r.loaded {
		out = append(out, le.entities...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Entity looks up an entity by ID.
func (r *Registry) Entity(entityID string) (entity.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, le := range r.loaded {
		for _, ent := range le.entities {
			if ent.ID() == entityID {
				return ent, true
			}
		}
	}
	return nil, false
}

// ImageEntity returns the image entity of an entry, if enabled and loaded.
func (r *Registry) ImageEntity(entryID string) (*entity.ImageEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	le, ok := r.loaded[entryID]
	if !ok {
		return nil, false
	}
	for _, ent := range le.entities {
		if img, ok := ent.(*entity.ImageEntity); ok {
			return img, true
		}
	}
	return nil, false
}

// CreateEntry stores a new entry and sets it up.
func (r *Registry) CreateEntry(ctx context.Context, title string, data entry.Data) (*entry.Entry, error) {
	e, err := r.store.Create(ctx, title, data)
	if err != nil {
		return nil, err
	}

	r.opMu.Lock()
	r.loadLocked(ctx, e)
	r.opMu.Unlock()

	r.publish(eventbus.EventTypeEntryAdded, e.ID, map[string]any{"title": e.Title, "source": "flow"})
	return e, nil
}

// Entry returns a stored entry.
func (r *Registry) Entry(ctx context.Context, id string) (*entry.Entry, error) {
	return r.store.Get(ctx, id)
}

// UpdateOptions stores new options and reloads the entry.
func (r *Registry) UpdateOptions(ctx context.Context, id string, options entry.Data) (*entry.Entry, error) {
	e, err := r.store.UpdateOptions(ctx, id, options)
	if err != nil {
		return nil, err
	}

	r.opMu.Lock()
	r.unloadLocked(id)
	r.loadLocked(ctx, e)
	r.opMu.Unlock()

	r.publish(eventbus.EventTypeEntryUpdated, id, map[string]any{
		"title":   e.Title,
		"version": e.Version,
		"source":  "options",
	})
	return e, nil
}

// Title resolves an entry ID to its title.
func (r *Registry) Title(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if le, ok := r.loaded[id]; ok {
		return le.entry.Title
	}
	return ""
}

// Ready reports whether every entry has been set up successfully.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, le := range r.loaded {
		if le.state != StateLoaded {
			return false
		}
	}
	return true
}

// Close stops all coordinators.
func (r *Registry) Close() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	loaded := r.loaded
	r.loaded = make(map[string]*loadedEntry)
	r.mu.Unlock()

	for _, le := range loaded {
		le.stop()
	}
}

func (r *Registry) publish(t eventbus.EventType, id string, data map[string]any) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: t, EntryID: id, Data: data})
	}
}
