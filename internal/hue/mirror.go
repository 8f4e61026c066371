package hue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/storage"
)

// StateKind is the storage kind of last applied lamp states.
const StateKind = "hue_target"

// TitleFunc resolves an entry ID to its title.
type TitleFunc func(entryID string) string

// Mirror applies every successful sample to the targets of its entry.
type Mirror struct {
	applier    Applier
	targets    []Target
	store      *storage.TypedStore[Lamp]
	limiter    *rate.Limiter
	transition time.Duration
	titles     TitleFunc

	ctx context.Context

	// mu serializes applies; last caches what each target shows.
	mu   sync.Mutex
	last map[string]Lamp
}

// NewMirror creates a mirror. store and titles may be nil.
func NewMirror(applier Applier, targets []Target, store *storage.TypedStore[Lamp], rateLimitRPS float64, transition time.Duration, titles TitleFunc) *Mirror {
	limit := rate.Inf
	burst := 1
	if rateLimitRPS > 0 {
		limit = rate.Limit(rateLimitRPS)
		burst = max(1, int(rateLimitRPS))
	}
	return &Mirror{
		applier:    applier,
		targets:    targets,
		store:      store,
		limiter:    rate.NewLimiter(limit, burst),
		transition: transition,
		titles:     titles,
		ctx:        context.Background(),
		last:       make(map[string]Lamp),
	}
}

// Start restores the last applied states and subscribes to samples.
func (m *Mirror) Start(ctx context.Context, bus *eventbus.Bus) error {
	m.ctx = ctx

	if m.store != nil {
		stored, err := m.store.All(ctx)
		if err != nil {
			return err
		}
		m.mu.Lock()
		for key, lamp := range stored {
			m.last[key] = lamp
		}
		m.mu.Unlock()
	}

	bus.Subscribe(eventbus.EventTypeSampleUpdated, func(e eventbus.Event) {
		m.Handle(m.ctx, e)
	})

	log.Info().Int("targets", len(m.targets)).Msg("Hue mirroring enabled")
	return nil
}

// Handle applies one sample event. It returns the number of targets that
// were changed.
func (m *Mirror) Handle(ctx context.Context, e eventbus.Event) int {
	targets := m.targetsFor(e.EntryID)
	if len(targets) == 0 {
		return 0
	}

	brightness, _ := e.Data["brightness"].(float64)
	r, _ := entry.Int(e.Data["r"])
	g, _ := entry.Int(e.Data["g"])
	b, _ := entry.Int(e.Data["b"])
	lamp := LampFor(brightness, r, g, b)

	m.mu.Lock()
	defer m.mu.Unlock()

	applied := 0
	for _, t := range targets {
		key := t.Key()
		if prev, ok := m.last[key]; ok && prev == lamp {
			log.Debug().Str("target", t.String()).Msg("Lamp state unchanged, skipping")
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return applied
		}
		if err := m.applier.Apply(ctx, t, lamp, m.transition); err != nil {
			log.Error().Err(err).Str("target", t.String()).Str("entry_id", e.EntryID).Msg("Failed to apply lamp state")
			continue
		}

		m.last[key] = lamp
		applied++
		if m.store != nil {
			if err := m.store.Set(ctx, key, lamp); err != nil {
				log.Warn().Err(err).Str("target", t.String()).Msg("Failed to store lamp state")
			}
		}

		log.Info().
			Str("target", t.String()).
			Str("entry_id", e.EntryID).
			Bool("on", lamp.On).
			Uint8("bri", lamp.Bri).
			Msg("Lamp updated")
	}
	return applied
}

func (m *Mirror) targetsFor(entryID string) []Target {
	title := ""
	if m.titles != nil {
		title = m.titles(entryID)
	}
	var out []Target
	for _, t := range m.targets {
		if t.Entry == entryID || (title != "" && t.Entry == title) {
			out = append(out, t)
		}
	}
	return out
}
