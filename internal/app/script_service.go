package app

import (
	"context"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/registry"
	"github.com/dokzlo13/indoorsun/internal/script"
)

// ScriptService wraps the optional Lua hook runtime.
type ScriptService struct {
	cfg     *config.Config
	Runtime *script.Runtime
}

// NewScriptService creates a new ScriptService. Without a configured script
// every method is a no-op.
func NewScriptService(cfg *config.Config, reg *registry.Registry) *ScriptService {
	s := &ScriptService{cfg: cfg}
	if cfg.Script != "" {
		s.Runtime = script.NewRuntime(reg)
	}
	return s
}

// LoadScript loads and executes the Lua script.
// Must be called before Start().
func (s *ScriptService) LoadScript() error {
	if s.Runtime == nil {
		return nil
	}
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Attach subscribes the script callbacks to sample events.
func (s *ScriptService) Attach(ctx context.Context, bus *eventbus.Bus) {
	if s.Runtime != nil {
		s.Runtime.Attach(ctx, bus)
	}
}

// Start begins the Lua worker goroutine.
func (s *ScriptService) Start(ctx context.Context) {
	if s.Runtime != nil {
		// the only goroutine that touches Lua
		go s.Runtime.Run(ctx)
	}
}

// Close closes the Lua state.
func (s *ScriptService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
