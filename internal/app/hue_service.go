package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/hue"
	"github.com/dokzlo13/indoorsun/internal/storage"
)

// HueService mirrors samples onto Hue lamps. It does nothing unless a
// bridge and targets are configured.
type HueService struct {
	cfg    *config.Config
	Mirror *hue.Mirror
}

// NewHueService creates a new HueService.
func NewHueService(cfg *config.Config, state *storage.Store, titles hue.TitleFunc) *HueService {
	s := &HueService{cfg: cfg}
	if !cfg.Hue.Enabled() {
		return s
	}

	s.Mirror = hue.NewMirror(
		hue.NewBridgeApplier(cfg.Hue.Bridge, cfg.Hue.Token),
		hueTargets(cfg.Hue.Targets),
		storage.NewTypedStore[hue.Lamp](state, hue.StateKind),
		cfg.Hue.RateLimitRPS,
		cfg.Hue.Transition.Duration(),
		titles,
	)
	return s
}

// Start subscribes the mirror to sample events.
func (s *HueService) Start(ctx context.Context, bus *eventbus.Bus) error {
	if s.Mirror == nil {
		log.Debug().Msg("Hue mirroring disabled")
		return nil
	}
	return s.Mirror.Start(ctx, bus)
}

func hueTargets(list []config.HueTarget) []hue.Target {
	out := make([]hue.Target, 0, len(list))
	for _, t := range list {
		if t.Light != "" {
			out = append(out, hue.Target{Entry: t.Entry, Kind: hue.KindLight, ID: t.Light})
		} else {
			out = append(out, hue.Target{Entry: t.Entry, Kind: hue.KindGroup, ID: t.Group})
		}
	}
	return out
}
