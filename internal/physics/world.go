// Package physics advances falling droppers on a fixed timestep. The world is
// not safe for concurrent use; the simulation loop owns it.
package physics

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"stream-drop/server/powerups"
)

var (
	// ErrDuplicateEntity reports a spawn for an id that is already present.
	ErrDuplicateEntity = errors.New("physics: entity already exists")
	// ErrUnknownEntity reports an id that is not in the world.
	ErrUnknownEntity = errors.New("physics: unknown entity")
)

// SpawnSpec describes a new dropper.
type SpawnSpec struct {
	ID        string
	Owner     string
	AvatarURL string
	EmoteURL  string
}

// Landing reports an entity that reached the platform, or was forced down.
type Landing struct {
	EntityID string
	Owner    string
	X        float64
	Y        float64
	Score    int
	Forced   bool
	Elapsed  time.Duration
}

// StepResult collects what happened during one step.
type StepResult struct {
	Tick     uint64
	Now      time.Duration
	Landings []Landing
	Expired  []ExpiredEffect
}

type World struct {
	tuning   Tuning
	rng      Source
	entities map[string]*Entity
	order    []string
	now      time.Duration
	tick     uint64
}

func NewWorld(tuning Tuning, rng Source) (*World, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = NewDeterministicRNG(DefaultSeed, "world")
	}
	return &World{
		tuning:   tuning,
		rng:      rng,
		entities: make(map[string]*Entity),
	}, nil
}

func (w *World) Tuning() Tuning {
	return w.tuning
}

// Now reports the simulated time elapsed since the world was created.
func (w *World) Now() time.Duration {
	return w.now
}

func (w *World) Tick() uint64 {
	return w.tick
}

// Spawn places a dropper in the top spawn band with a random x and a random
// horizontal velocity inside the drift bounds.
func (w *World) Spawn(spec SpawnSpec) (Entity, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return Entity{}, errors.New("physics: entity id is required")
	}
	if _, exists := w.entities[id]; exists {
		return Entity{}, fmt.Errorf("%w: %s", ErrDuplicateEntity, id)
	}
	minX, maxX := spawnRange(w.tuning.PlayWidth, w.tuning.SpawnBandRatio, w.tuning.EntityRadius)
	entity := &Entity{
		ID:        id,
		Owner:     spec.Owner,
		AvatarURL: spec.AvatarURL,
		EmoteURL:  spec.EmoteURL,
		X:         randomBetween(w.rng, minX, maxX),
		Y:         w.tuning.EntityRadius,
		VX:        randomBetween(w.rng, w.tuning.MinHorizontalVelocity, w.tuning.MaxHorizontalVelocity),
		SpawnedAt: w.now,
	}
	w.entities[id] = entity
	w.order = append(w.order, id)
	return entity.clone(), nil
}

// Remove deletes the entity and reports whether it existed.
func (w *World) Remove(id string) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	for i, candidate := range w.order {
		if candidate == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

// Entity returns a copy of the entity.
func (w *World) Entity(id string) (Entity, bool) {
	entity, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return entity.clone(), true
}

// Snapshot lists every entity in spawn order.
func (w *World) Snapshot() []EntitySnapshot {
	out := make([]EntitySnapshot, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.entities[id].snapshot())
	}
	return out
}

// Step advances all airborne entities by dt.
func (w *World) Step(dt time.Duration) StepResult {
	w.tick++
	w.now += dt
	result := StepResult{Tick: w.tick, Now: w.now}
	seconds := dt.Seconds()

	var airborne []*Entity
	for _, id := range w.order {
		entity := w.entities[id]
		if entity.Landed {
			continue
		}
		for _, kind := range entity.expireEffects(w.now) {
			result.Expired = append(result.Expired, ExpiredEffect{EntityID: entity.ID, Owner: entity.Owner, Kind: kind})
		}
		w.integrate(entity, seconds)
		airborne = append(airborne, entity)
	}

	w.resolveCollisions(airborne)

	for _, entity := range airborne {
		if landing, ok := w.checkLanding(entity); ok {
			result.Landings = append(result.Landings, landing)
		}
	}
	return result
}

func (w *World) integrate(e *Entity, dt float64) {
	t := w.tuning
	powerDrop := e.ActivePowerup == powerups.PowerDrop

	gravity := t.Gravity
	if powerDrop {
		if e.GravityMultiplier > 0 {
			gravity *= e.GravityMultiplier
		}
		e.VX = 0
	}
	e.VY += gravity * dt

	if !powerDrop {
		e.VX += (randomFloat(w.rng)*2 - 1) * t.HorizontalDrift * dt
		e.VX = clamp(e.VX, t.MinHorizontalVelocity, t.MaxHorizontalVelocity)
	}
	if e.ActivePowerup == powerups.Magnet {
		e.VX += (t.Center() - e.X) * e.MagnetStrength * dt
	}
	effectiveVX := e.VX * e.horizontalMultiplier()

	e.X += effectiveVX * dt
	e.Y += e.VY * dt

	w.applyBounds(e)
}

func (w *World) applyBounds(e *Entity) {
	width := w.tuning.PlayWidth
	if e.HasEffect(EffectGhost) {
		if e.X < 0 {
			e.X += width
		} else if e.X > width {
			e.X -= width
		}
		return
	}
	minX := w.tuning.EntityRadius
	maxX := width - w.tuning.EntityRadius
	if e.X < minX {
		e.X = minX
		e.VX = -e.VX * w.tuning.BounceDamping
	} else if e.X > maxX {
		e.X = maxX
		e.VX = -e.VX * w.tuning.BounceDamping
	}
}

// resolveCollisions separates overlapping airborne entities and exchanges
// their approaching normal velocity, damped. Ghosts pass through.
func (w *World) resolveCollisions(entities []*Entity) {
	minDist := 2 * w.tuning.EntityRadius
	if minDist <= 0 {
		return
	}
	for i := 0; i < len(entities); i++ {
		a := entities[i]
		if a.HasEffect(EffectGhost) {
			continue
		}
		for j := i + 1; j < len(entities); j++ {
			b := entities[j]
			if b.HasEffect(EffectGhost) {
				continue
			}
			dx := b.X - a.X
			dy := b.Y - a.Y
			dist := math.Hypot(dx, dy)
			if dist >= minDist {
				continue
			}
			var nx, ny float64
			if dist == 0 {
				nx, ny = 1, 0
			} else {
				nx, ny = dx/dist, dy/dist
			}
			overlap := (minDist - dist) / 2
			a.X -= nx * overlap
			a.Y -= ny * overlap
			b.X += nx * overlap
			b.Y += ny * overlap

			approach := (a.VX-b.VX)*nx + (a.VY-b.VY)*ny
			if approach <= 0 {
				continue
			}
			impulse := approach * w.tuning.BounceDamping
			a.VX -= impulse * nx
			a.VY -= impulse * ny
			b.VX += impulse * nx
			b.VY += impulse * ny
		}
	}
}

func (w *World) checkLanding(e *Entity) (Landing, bool) {
	elapsed := w.now - e.SpawnedAt
	switch {
	case e.Y >= w.tuning.PlatformY:
		e.Y = w.tuning.PlatformY
		e.Score = w.tuning.Score(e.X)
	case elapsed >= w.tuning.MaxFallTime:
		e.Forced = true
		e.Score = 0
	default:
		return Landing{}, false
	}
	e.Landed = true
	e.Scored = true
	e.VX = 0
	e.VY = 0
	e.LandedAt = w.now
	return Landing{
		EntityID: e.ID,
		Owner:    e.Owner,
		X:        e.X,
		Y:        e.Y,
		Score:    e.Score,
		Forced:   e.Forced,
		Elapsed:  elapsed,
	}, true
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
