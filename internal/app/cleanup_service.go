package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/ledger"
)

// CleanupService periodically trims the event ledger.
type CleanupService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewCleanupService creates a new CleanupService.
func NewCleanupService(cfg *config.Config, l *ledger.Ledger) *CleanupService {
	return &CleanupService{cfg: cfg, ledger: l}
}

// Start runs the cleanup loop. Negative retention keeps everything.
func (s *CleanupService) Start(ctx context.Context) {
	if s.cfg.Ledger.RetentionDays < 0 {
		log.Info().Msg("Ledger cleanup disabled")
		return
	}
	go s.run(ctx)
}

func (s *CleanupService) run(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	s.cleanup(retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(retention)
		}
	}
}

func (s *CleanupService) cleanup(retention time.Duration) {
	deleted, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}
