package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/api"
	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/flow"
	"github.com/dokzlo13/indoorsun/internal/ledger"
	"github.com/dokzlo13/indoorsun/internal/registry"
)

// APIService wraps the REST API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, reg *registry.Registry, flows *flow.Manager, l *ledger.Ledger) *APIService {
	return &APIService{
		cfg:    cfg,
		server: api.NewServer(cfg.API.Addr(), reg, flows, l),
	}
}

// Start begins the API server if enabled. A listen failure is fatal.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.API.IsEnabled() {
		log.Info().Msg("API server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("API server error")
			onFatalError(err)
		}
	}()
}
