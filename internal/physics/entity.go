package physics

import (
	"time"

	"stream-drop/server/powerups"
)

// Entity is one falling dropper. The world owns it; callers receive copies.
type Entity struct {
	ID        string
	Owner     string
	AvatarURL string
	EmoteURL  string

	X, Y   float64
	VX, VY float64

	Landed bool
	Forced bool
	Scored bool
	Score  int

	Effects []Effect

	// ActivePowerup is the persistent modifier (powerdrop or magnet) that
	// lasts until landing; empty means none.
	ActivePowerup     powerups.Type
	GravityMultiplier float64
	MagnetStrength    float64

	SpawnedAt time.Duration
	LandedAt  time.Duration
}

func (e *Entity) clone() Entity {
	out := *e
	if len(e.Effects) > 0 {
		out.Effects = append([]Effect(nil), e.Effects...)
	}
	return out
}

// EntitySnapshot is the render-facing view of an entity.
type EntitySnapshot struct {
	ID            string        `json:"id"`
	Owner         string        `json:"owner"`
	AvatarURL     string        `json:"avatarUrl,omitempty"`
	EmoteURL      string        `json:"emoteUrl,omitempty"`
	X             float64       `json:"x"`
	Y             float64       `json:"y"`
	VX            float64       `json:"vx"`
	VY            float64       `json:"vy"`
	Landed        bool          `json:"landed"`
	Score         *int          `json:"score,omitempty"`
	Shielded      bool          `json:"shielded,omitempty"`
	Ghost         bool          `json:"ghost,omitempty"`
	Boosted       bool          `json:"boosted,omitempty"`
	ActivePowerup powerups.Type `json:"activePowerup,omitempty"`
}

func (e *Entity) snapshot() EntitySnapshot {
	snap := EntitySnapshot{
		ID:            e.ID,
		Owner:         e.Owner,
		AvatarURL:     e.AvatarURL,
		EmoteURL:      e.EmoteURL,
		X:             e.X,
		Y:             e.Y,
		VX:            e.VX,
		VY:            e.VY,
		Landed:        e.Landed,
		Shielded:      e.HasEffect(EffectShield),
		Ghost:         e.HasEffect(EffectGhost),
		Boosted:       e.HasEffect(EffectBoost),
		ActivePowerup: e.ActivePowerup,
	}
	if e.Scored {
		score := e.Score
		snap.Score = &score
	}
	return snap
}
