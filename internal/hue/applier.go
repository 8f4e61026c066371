package hue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
)

// Applier pushes lamp states to the bridge.
type Applier interface {
	Apply(ctx context.Context, target Target, lamp Lamp, transition time.Duration) error
}

// BridgeApplier implements Applier using the Hue bridge.
type BridgeApplier struct {
	bridge *huego.Bridge
}

// NewBridgeApplier creates an applier for the bridge at host.
func NewBridgeApplier(host, token string) *BridgeApplier {
	return &BridgeApplier{bridge: huego.New(host, token)}
}

// Apply sets the state of a light or group.
func (a *BridgeApplier) Apply(ctx context.Context, target Target, lamp Lamp, transition time.Duration) error {
	id, err := strconv.Atoi(target.ID)
	if err != nil {
		return fmt.Errorf("invalid %s id %q: %w", target.Kind, target.ID, err)
	}
	state := stateFor(lamp, transition)

	log.Debug().
		Str("target", target.String()).
		Interface("state", state).
		Msg("Applying state")

	switch target.Kind {
	case KindLight:
		light, err := a.bridge.GetLightContext(ctx, id)
		if err != nil {
			return err
		}
		return light.SetStateContext(ctx, state)
	case KindGroup:
		group, err := a.bridge.GetGroupContext(ctx, id)
		if err != nil {
			return err
		}
		return group.SetStateContext(ctx, state)
	}
	return fmt.Errorf("unknown target kind %q", target.Kind)
}

// stateFor builds the bridge state. Transition time is in 100ms steps.
func stateFor(lamp Lamp, transition time.Duration) huego.State {
	state := huego.State{
		On:             lamp.On,
		TransitionTime: uint16(transition / (100 * time.Millisecond)),
	}
	if lamp.On {
		state.Bri = lamp.Bri
		state.Xy = []float32{lamp.Xy[0], lamp.Xy[1]}
	}
	return state
}
