package catalog

import "stream-drop/server/powerups"

// Effect holds the physics parameters of a powerup. Zero fields in a file
// entry keep the built-in value.
type Effect struct {
	Radius      float64 `json:"radius,omitempty" jsonschema:"description=Explosion radius in play units,minimum=0"`
	Force       float64 `json:"force,omitempty" jsonschema:"description=Explosion impulse or magnet pull strength,minimum=0"`
	UpwardBoost float64 `json:"upwardBoost,omitempty" jsonschema:"description=Upward impulse applied by an explosion,minimum=0"`
	DurationMs  int64   `json:"durationMs,omitempty" jsonschema:"description=Lifetime of timed effects in milliseconds,minimum=0"`
	Multiplier  float64 `json:"multiplier,omitempty" jsonschema:"description=Gravity or horizontal speed multiplier,minimum=0"`
}

// Definition models a single catalog entry as authored on disk.
type Definition struct {
	Type        powerups.Type `json:"type" jsonschema:"title=Powerup type,enum=tnt,enum=powerdrop,enum=shield,enum=magnet,enum=ghost,enum=boost,required"`
	Name        string        `json:"name,omitempty" jsonschema:"description=Display name shown by chat integrations"`
	Cost        int           `json:"cost" jsonschema:"description=Channel point price,minimum=1,required"`
	Description string        `json:"description,omitempty" jsonschema:"description=Short help text"`
	Effect      Effect        `json:"effect,omitempty" jsonschema:"description=Physics tuning for the powerup"`
}

// FileDefinitions represents the contents of config/powerups/catalog.json.
type FileDefinitions struct {
	Powerups []Definition `json:"powerups" jsonschema:"description=Per-type overrides merged over the built-in catalog"`
}
