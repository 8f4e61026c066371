package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/db"
	"github.com/dokzlo13/indoorsun/internal/entries"
	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/flow"
	"github.com/dokzlo13/indoorsun/internal/ledger"
	"github.com/dokzlo13/indoorsun/internal/registry"
	"github.com/dokzlo13/indoorsun/internal/source"
	"github.com/dokzlo13/indoorsun/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus
	State  *storage.Store

	Entries  *entries.Store
	Source   *source.Client
	Registry *registry.Registry
	Flows    *flow.Manager

	// High-level services
	API     *APIService
	Health  *HealthService
	Hue     *HueService
	Script  *ScriptService
	Cleanup *CleanupService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.State = storage.NewStore(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Entries = entries.NewStore(database.DB)
	s.Entries.SetStatic(staticEntries(cfg.Entries))

	s.Source = source.NewClient(source.Config{
		Timeout:            cfg.Source.Timeout.Duration(),
		MaxBodyBytes:       cfg.Source.MaxBodyBytes,
		UserAgent:          cfg.Source.UserAgent,
		RateLimitRPS:       cfg.Source.RateLimitRPS,
		InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
	})

	s.Registry = registry.New(s.Entries, s.Source, s.Bus, cfg.Source.Timeout.Duration())

	s.Flows, err = flow.NewManager(s.Source, s.Registry, cfg.Flow.TTL.Duration())
	if err != nil {
		s.Close()
		return nil, err
	}

	s.API = NewAPIService(cfg, s.Registry, s.Flows, s.Ledger)
	s.Health = NewHealthService(cfg, s.Registry.Ready)
	s.Hue = NewHueService(cfg, s.State, s.Registry.Title)
	s.Script = NewScriptService(cfg, s.Registry)
	s.Cleanup = NewCleanupService(cfg, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Load the hook script before any sample is taken
	if err := s.Script.LoadScript(); err != nil {
		return err
	}

	// Subscribers first, so setup samples reach them
	s.Ledger.Attach(s.Bus)
	s.Script.Attach(ctx, s.Bus)
	if err := s.Hue.Start(ctx, s.Bus); err != nil {
		return err
	}

	if err := s.Registry.Start(ctx); err != nil {
		return err
	}

	s.Script.Start(ctx)
	s.Cleanup.Start(ctx)
	s.Health.Start(ctx)
	s.API.Start(ctx, onFatalError)

	return nil
}

// ResetEntries removes flow-created entries and stored lamp states.
func (s *Services) ResetEntries() error {
	ctx := context.Background()

	n, err := s.Entries.Clear(ctx)
	if err != nil {
		return err
	}
	states, err := s.State.Clear(ctx, "")
	if err != nil {
		return err
	}
	log.Info().Int64("entries", n).Int64("states", states).Msg("Entries reset")
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Registry != nil {
		s.Registry.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Script != nil {
		s.Script.Close()
	}
	if s.Source != nil {
		s.Source.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// staticEntries converts config file entries. Missing titles are derived
// the same way the setup flow does.
func staticEntries(list []config.EntryConfig) []*entry.Entry {
	now := time.Now()
	out := make([]*entry.Entry, 0, len(list))
	for _, c := range list {
		data := entry.Data(c.Data).Clone()
		title := c.Title
		if title == "" {
			title = entry.Title(data)
		}
		out = append(out, &entry.Entry{
			ID:        c.ID,
			Title:     title,
			Data:      data,
			Options:   entry.Data{},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return out
}
