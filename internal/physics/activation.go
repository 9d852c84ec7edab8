package physics

import (
	"fmt"
	"math"
	"time"

	"stream-drop/server/powerups"
)

// Activation carries the effect parameters of one powerup use.
type Activation struct {
	Powerup     powerups.Type
	Radius      float64
	Force       float64
	UpwardBoost float64
	Duration    time.Duration
	Multiplier  float64
}

// Push records the impulse an explosion gave one entity.
type Push struct {
	EntityID string
	Owner    string
	DVX      float64
	DVY      float64
}

// ActivationResult reports what an activation changed. Applied is false
// when the target had already landed.
type ActivationResult struct {
	Applied  bool
	Pushed   []Push
	Shielded []string
}

// Activate applies a powerup to the entity. A tnt blast is instantaneous and
// hits every other airborne, unshielded entity within the radius.
func (w *World) Activate(id string, act Activation) (ActivationResult, error) {
	entity, ok := w.entities[id]
	if !ok {
		return ActivationResult{}, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if entity.Landed {
		return ActivationResult{}, nil
	}
	result := ActivationResult{Applied: true}
	switch act.Powerup {
	case powerups.TNT:
		result.Pushed, result.Shielded = w.explode(entity, act)
	case powerups.PowerDrop:
		entity.ActivePowerup = powerups.PowerDrop
		entity.GravityMultiplier = act.Multiplier
		entity.VX = 0
	case powerups.Magnet:
		entity.ActivePowerup = powerups.Magnet
		entity.MagnetStrength = act.Force
	case powerups.Shield:
		entity.applyEffect(Effect{Kind: EffectShield, ExpiresAt: w.now + act.Duration})
	case powerups.Ghost:
		entity.applyEffect(Effect{Kind: EffectGhost, ExpiresAt: w.now + act.Duration})
	case powerups.Boost:
		multiplier := act.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		entity.applyEffect(Effect{Kind: EffectBoost, ExpiresAt: w.now + act.Duration, Multiplier: multiplier})
	default:
		return ActivationResult{}, fmt.Errorf("physics: unsupported powerup %q", act.Powerup)
	}
	return result, nil
}

func (w *World) explode(source *Entity, act Activation) ([]Push, []string) {
	if act.Radius <= 0 {
		return nil, nil
	}
	var (
		pushed   []Push
		shielded []string
	)
	for _, id := range w.order {
		target := w.entities[id]
		if target == source || target.Landed {
			continue
		}
		dx := target.X - source.X
		dy := target.Y - source.Y
		dist := math.Hypot(dx, dy)
		if dist > act.Radius {
			continue
		}
		if target.HasEffect(EffectShield) {
			shielded = append(shielded, target.ID)
			continue
		}
		var nx, ny float64
		if dist == 0 {
			angle := randomAngle(w.rng)
			nx, ny = math.Cos(angle), math.Sin(angle)
		} else {
			nx, ny = dx/dist, dy/dist
		}
		strength := act.Force * (1 - dist/act.Radius)
		push := Push{
			EntityID: target.ID,
			Owner:    target.Owner,
			DVX:      nx * strength,
			DVY:      ny*strength - act.UpwardBoost,
		}
		target.VX += push.DVX
		target.VY += push.DVY
		pushed = append(pushed, push)
	}
	return pushed, shielded
}
