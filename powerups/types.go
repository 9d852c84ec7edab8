// Package powerups enumerates the purchasable drop modifiers.
package powerups

import "strings"

// Type identifies a powerup. The set is closed.
type Type string

const (
	TNT       Type = "tnt"
	PowerDrop Type = "powerdrop"
	Shield    Type = "shield"
	Magnet    Type = "magnet"
	Ghost     Type = "ghost"
	Boost     Type = "boost"
)

var ordered = []Type{TNT, PowerDrop, Shield, Magnet, Ghost, Boost}

// All returns every powerup type in catalog order.
func All() []Type {
	return append([]Type(nil), ordered...)
}

// Parse resolves a user-supplied name. Matching ignores case and surrounding space.
func Parse(raw string) (Type, bool) {
	candidate := Type(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

func (t Type) Valid() bool {
	for _, known := range ordered {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string {
	return string(t)
}
