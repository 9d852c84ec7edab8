package powerups

import (
	"context"

	"stream-drop/server/logging"
)

const (
	// EventApplied is emitted when a powerup takes effect on a dropper.
	EventApplied logging.EventType = "powerups.applied"
	// EventExpired is emitted when a timed effect wears off.
	EventExpired logging.EventType = "powerups.expired"
	// EventExplosion is emitted when a tnt activation pushes other droppers.
	EventExplosion logging.EventType = "powerups.explosion"
)

// AppliedPayload captures details about a powerup application.
type AppliedPayload struct {
	Powerup    string `json:"powerup"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// ExpiredPayload captures the effect that ended.
type ExpiredPayload struct {
	Effect string `json:"effect"`
}

// ExplosionPayload captures the blast outcome.
type ExplosionPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Radius   float64 `json:"radius"`
	Affected int     `json:"affected"`
	Shielded int     `json:"shielded"`
}

// Applied publishes a powerup application event.
func Applied(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AppliedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventApplied,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPowerups,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Expired publishes the end of a timed effect.
func Expired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ExpiredPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventExpired,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPowerups,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Explosion publishes a blast and the droppers it pushed.
func Explosion(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, targets []logging.EntityRef, payload ExplosionPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventExplosion,
		Tick:     tick,
		Actor:    actor,
		Targets:  targets,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPowerups,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
