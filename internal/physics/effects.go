package physics

import "time"

// EffectKind tags a timed effect on an entity.
type EffectKind string

const (
	EffectShield EffectKind = "shield"
	EffectGhost  EffectKind = "ghost"
	EffectBoost  EffectKind = "boost"
)

// Effect is a timed modifier. ExpiresAt is measured on the world clock.
type Effect struct {
	Kind       EffectKind    `json:"kind"`
	ExpiresAt  time.Duration `json:"expiresAt"`
	Multiplier float64       `json:"multiplier,omitempty"`
}

// ExpiredEffect reports an effect removed during a step.
type ExpiredEffect struct {
	EntityID string
	Owner    string
	Kind     EffectKind
}

func (e *Entity) effect(kind EffectKind) (Effect, bool) {
	for _, fx := range e.Effects {
		if fx.Kind == kind {
			return fx, true
		}
	}
	return Effect{}, false
}

// HasEffect reports whether kind is currently active.
func (e *Entity) HasEffect(kind EffectKind) bool {
	_, ok := e.effect(kind)
	return ok
}

// applyEffect adds kind or refreshes its expiry. One instance per kind.
func (e *Entity) applyEffect(fx Effect) {
	for i := range e.Effects {
		if e.Effects[i].Kind == fx.Kind {
			e.Effects[i] = fx
			return
		}
	}
	e.Effects = append(e.Effects, fx)
}

func (e *Entity) expireEffects(now time.Duration) []EffectKind {
	if len(e.Effects) == 0 {
		return nil
	}
	var expired []EffectKind
	kept := e.Effects[:0]
	for _, fx := range e.Effects {
		if fx.ExpiresAt <= now {
			expired = append(expired, fx.Kind)
			continue
		}
		kept = append(kept, fx)
	}
	e.Effects = kept
	return expired
}

func (e *Entity) horizontalMultiplier() float64 {
	if fx, ok := e.effect(EffectBoost); ok && fx.Multiplier > 0 {
		return fx.Multiplier
	}
	return 1
}
