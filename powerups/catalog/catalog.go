// Package catalog resolves powerup prices and effect parameters. The catalog
// is read once at startup; entries on disk override the built-in defaults per
// type and any failure leaves the built-in catalog in place.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stream-drop/server/powerups"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// Catalog is an immutable lookup table keyed by powerup type.
type Catalog struct {
	entries  map[powerups.Type]Definition
	path     string
	fallback bool
}

// DefaultPath returns the canonical catalog location relative to the module root.
func DefaultPath() string {
	return filepath.Join("config", "powerups", "catalog.json")
}

func builtin() map[powerups.Type]Definition {
	return map[powerups.Type]Definition{
		powerups.TNT: {
			Type:        powerups.TNT,
			Name:        "TNT",
			Cost:        500,
			Description: "Blast nearby droppers away from you",
			Effect:      Effect{Radius: 250, Force: 900, UpwardBoost: 400},
		},
		powerups.PowerDrop: {
			Type:        powerups.PowerDrop,
			Name:        "Power Drop",
			Cost:        300,
			Description: "Fall straight down at high speed",
			Effect:      Effect{Multiplier: 2.5},
		},
		powerups.Shield: {
			Type:        powerups.Shield,
			Name:        "Shield",
			Cost:        250,
			Description: "Ignore explosions for a few seconds",
			Effect:      Effect{DurationMs: 5000},
		},
		powerups.Magnet: {
			Type:        powerups.Magnet,
			Name:        "Magnet",
			Cost:        400,
			Description: "Get pulled toward the center of the platform",
			Effect:      Effect{Force: 1.5},
		},
		powerups.Ghost: {
			Type:        powerups.Ghost,
			Name:        "Ghost",
			Cost:        350,
			Description: "Pass through walls and other droppers",
			Effect:      Effect{DurationMs: 5000},
		},
		powerups.Boost: {
			Type:        powerups.Boost,
			Name:        "Boost",
			Cost:        200,
			Description: "Double your sideways speed for a moment",
			Effect:      Effect{DurationMs: 3000, Multiplier: 2},
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{entries: builtin(), fallback: true}
}

// Load reads the catalog at path. On any failure it returns the built-in
// catalog together with the error so callers can log and continue.
func Load(path string) (*Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Default(), nil
	}
	return fromSource(fileSource{path: trimmed})
}

func fromSource(src source) (*Catalog, error) {
	data, err := src.Load()
	if err != nil {
		return Default(), fmt.Errorf("catalog: read %s: %w", src.Path(), err)
	}
	cat, err := Parse(data)
	if err != nil {
		return Default(), fmt.Errorf("catalog: %s: %w", src.Path(), err)
	}
	cat.path = src.Path()
	return cat, nil
}

// Parse merges the JSON document over the built-in catalog.
func Parse(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty catalog document")
	}
	var doc FileDefinitions
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	entries := builtin()
	seen := make(map[powerups.Type]struct{}, len(doc.Powerups))
	for i, def := range doc.Powerups {
		typ, ok := powerups.Parse(string(def.Type))
		if !ok {
			return nil, fmt.Errorf("entry %d: unknown powerup type %q", i, def.Type)
		}
		if _, dup := seen[typ]; dup {
			return nil, fmt.Errorf("entry %d: duplicate powerup type %q", i, typ)
		}
		seen[typ] = struct{}{}
		if def.Cost <= 0 {
			return nil, fmt.Errorf("entry %d (%s): cost must be positive, got %d", i, typ, def.Cost)
		}
		if err := def.Effect.validate(); err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, typ, err)
		}
		entries[typ] = merge(entries[typ], def)
	}
	return &Catalog{entries: entries}, nil
}

func (e Effect) validate() error {
	if e.Radius < 0 || e.Force < 0 || e.UpwardBoost < 0 || e.Multiplier < 0 || e.DurationMs < 0 {
		return errors.New("effect parameters must not be negative")
	}
	return nil
}

func merge(base, override Definition) Definition {
	out := base
	out.Cost = override.Cost
	if name := strings.TrimSpace(override.Name); name != "" {
		out.Name = name
	}
	if desc := strings.TrimSpace(override.Description); desc != "" {
		out.Description = desc
	}
	if override.Effect.Radius > 0 {
		out.Effect.Radius = override.Effect.Radius
	}
	if override.Effect.Force > 0 {
		out.Effect.Force = override.Effect.Force
	}
	if override.Effect.UpwardBoost > 0 {
		out.Effect.UpwardBoost = override.Effect.UpwardBoost
	}
	if override.Effect.DurationMs > 0 {
		out.Effect.DurationMs = override.Effect.DurationMs
	}
	if override.Effect.Multiplier > 0 {
		out.Effect.Multiplier = override.Effect.Multiplier
	}
	return out
}

// Lookup returns the definition for typ.
func (c *Catalog) Lookup(typ powerups.Type) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	def, ok := c.entries[typ]
	return def, ok
}

// Cost returns the channel point price of typ.
func (c *Catalog) Cost(typ powerups.Type) (int, bool) {
	def, ok := c.Lookup(typ)
	if !ok {
		return 0, false
	}
	return def.Cost, true
}

// List returns every definition in catalog order.
func (c *Catalog) List() []Definition {
	if c == nil {
		return nil
	}
	out := make([]Definition, 0, len(c.entries))
	for _, typ := range powerups.All() {
		if def, ok := c.entries[typ]; ok {
			out = append(out, def)
		}
	}
	return out
}

// FromFallback reports whether the catalog is the built-in one.
func (c *Catalog) FromFallback() bool {
	return c != nil && c.fallback
}

// Path reports the file the catalog was loaded from, if any.
func (c *Catalog) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}
