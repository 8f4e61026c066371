package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/registry"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	ready, total := a.Ready()
	log.Info().Int("entries", total).Int("ready", ready).Msg("Indoor Sun started")
	return nil
}

// Ready returns how many entries are loaded out of all configured ones.
func (a *App) Ready() (ready, total int) {
	if a.services == nil || a.services.Registry == nil {
		return 0, 0
	}
	statuses, err := a.services.Registry.Statuses(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list entries")
		return 0, 0
	}
	for _, st := range statuses {
		if st.State == registry.StateLoaded {
			ready++
		}
	}
	return ready, len(statuses)
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetEntries deletes every entry created through the setup flow together
// with the stored lamp states. Used by the --reset-entries flag.
func (a *App) ResetEntries() error {
	if a.services != nil {
		return a.services.ResetEntries()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
