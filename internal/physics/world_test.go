package physics

import (
	"errors"
	"math"
	"testing"
	"time"

	"stream-drop/server/powerups"
)

// constantSource returns the same value forever; 0.5 means no drift.
type constantSource float64

func (c constantSource) Float64() float64 { return float64(c) }

const tick = time.Second / 60

func newTestWorld(t *testing.T, tuning Tuning) *World {
	t.Helper()
	world, err := NewWorld(tuning, constantSource(0.5))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return world
}

func place(t *testing.T, w *World, id string, x, y, vx, vy float64) *Entity {
	t.Helper()
	if _, err := w.Spawn(SpawnSpec{ID: id, Owner: id}); err != nil {
		t.Fatalf("spawn %s: %v", id, err)
	}
	entity := w.entities[id]
	entity.X, entity.Y, entity.VX, entity.VY = x, y, vx, vy
	return entity
}

func TestScoreBands(t *testing.T) {
	tuning := DefaultTuning()
	center := tuning.Center()
	half := tuning.HalfWidth()
	cases := []struct {
		name string
		x    float64
		want int
	}{
		{"dead center", center, 110},
		{"inside band", center + half*tuning.CenterBandRatio, 110},
		{"on platform", center - half*0.5, 10},
		{"platform edge", center + half, 10},
		{"miss", center + half + 1, 0},
		{"far miss", 0, 0},
	}
	for _, tc := range cases {
		if got := tuning.Score(tc.x); got != tc.want {
			t.Fatalf("%s: Score(%v) = %d, want %d", tc.name, tc.x, got, tc.want)
		}
	}
}

func TestValidateRejectsBrokenTuning(t *testing.T) {
	tuning := DefaultTuning()
	tuning.PlatformWidthRatio = 0
	if _, err := NewWorld(tuning, nil); err == nil {
		t.Fatalf("expected invalid tuning to be rejected")
	}
	tuning = DefaultTuning()
	tuning.MinHorizontalVelocity = 10
	tuning.MaxHorizontalVelocity = -10
	if err := tuning.Validate(); err == nil {
		t.Fatalf("expected inverted velocity bounds to be rejected")
	}
}

func TestSpawnStaysInsideSpawnBand(t *testing.T) {
	tuning := DefaultTuning()
	world, err := NewWorld(tuning, NewDeterministicRNG("seed", "spawn"))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	minX, maxX := spawnRange(tuning.PlayWidth, tuning.SpawnBandRatio, tuning.EntityRadius)
	for i := 0; i < 50; i++ {
		entity, err := world.Spawn(SpawnSpec{ID: string(rune('a' + i%26)) + string(rune('a'+i/26)), Owner: "o"})
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		if entity.X < minX || entity.X > maxX {
			t.Fatalf("spawn x %v outside [%v, %v]", entity.X, minX, maxX)
		}
		if entity.VX < tuning.MinHorizontalVelocity || entity.VX > tuning.MaxHorizontalVelocity {
			t.Fatalf("spawn vx %v outside drift bounds", entity.VX)
		}
		if entity.Landed || entity.ActivePowerup != "" || entity.Scored {
			t.Fatalf("expected fresh entity, got %+v", entity)
		}
	}
	if _, err := world.Spawn(SpawnSpec{ID: "aa"}); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected duplicate spawn to fail, got %v", err)
	}
}

func TestDeterministicWorldsMatch(t *testing.T) {
	run := func() []EntitySnapshot {
		world, err := NewWorld(DefaultTuning(), NewDeterministicRNG("replay", "world"))
		if err != nil {
			t.Fatalf("new world: %v", err)
		}
		for _, id := range []string{"a", "b", "c"} {
			if _, err := world.Spawn(SpawnSpec{ID: id}); err != nil {
				t.Fatalf("spawn: %v", err)
			}
		}
		for i := 0; i < 90; i++ {
			world.Step(tick)
		}
		return world.Snapshot()
	}
	first, second := run(), run()
	for i := range first {
		if first[i].X != second[i].X || first[i].Y != second[i].Y || first[i].VX != second[i].VX {
			t.Fatalf("expected identical replays, got %+v vs %+v", first[i], second[i])
		}
	}
}

func TestGravityAndLanding(t *testing.T) {
	tuning := DefaultTuning()
	world := newTestWorld(t, tuning)
	place(t, world, "a", tuning.Center(), tuning.PlatformY-1, 0, 0)

	result := world.Step(tick)
	if len(result.Landings) != 0 {
		t.Fatalf("did not expect a landing on the first tick")
	}
	if got := world.entities["a"].VY; math.Abs(got-tuning.Gravity*tick.Seconds()) > 1e-9 {
		t.Fatalf("expected gravity to add %v, got %v", tuning.Gravity*tick.Seconds(), got)
	}

	var landing Landing
	for i := 0; i < 120 && landing.EntityID == ""; i++ {
		for _, l := range world.Step(tick).Landings {
			landing = l
		}
	}
	if landing.EntityID != "a" || landing.Score != 110 || landing.Forced {
		t.Fatalf("unexpected landing %+v", landing)
	}
	entity, _ := world.Entity("a")
	if !entity.Landed || entity.VX != 0 || entity.VY != 0 || entity.Y != tuning.PlatformY {
		t.Fatalf("expected frozen landed entity, got %+v", entity)
	}

	before := entity
	if res := world.Step(tick); len(res.Landings) != 0 {
		t.Fatalf("landed entity must not land twice")
	}
	after, _ := world.Entity("a")
	if after.X != before.X || after.Y != before.Y {
		t.Fatalf("landed entity moved")
	}
}

func TestMissScoresZero(t *testing.T) {
	tuning := DefaultTuning()
	world := newTestWorld(t, tuning)
	place(t, world, "a", 100, tuning.PlatformY-0.1, 0, 10)
	result := world.Step(tick)
	if len(result.Landings) != 1 || result.Landings[0].Score != 0 {
		t.Fatalf("expected a zero-score landing, got %+v", result.Landings)
	}
}

func TestForceLandAfterMaxFallTime(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	tuning.MaxFallTime = time.Second
	world := newTestWorld(t, tuning)
	place(t, world, "stuck", tuning.Center(), 100, 0, 0)

	var landings []Landing
	for i := 0; i < 61; i++ {
		landings = append(landings, world.Step(tick).Landings...)
	}
	if len(landings) != 1 {
		t.Fatalf("expected exactly one forced landing, got %+v", landings)
	}
	if !landings[0].Forced || landings[0].Score != 0 {
		t.Fatalf("expected forced zero-score landing, got %+v", landings[0])
	}
}

func TestBounceReflectsWithDamping(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", tuning.EntityRadius+1, 200, -120, 0)

	world.Step(tick)
	if entity.X != tuning.EntityRadius {
		t.Fatalf("expected x clamped to %v, got %v", tuning.EntityRadius, entity.X)
	}
	if want := 120 * tuning.BounceDamping; math.Abs(entity.VX-want) > 1e-9 {
		t.Fatalf("expected reflected vx %v, got %v", want, entity.VX)
	}
}

func TestGhostWrapsInsteadOfBouncing(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", 1, 200, -120, 0)
	if _, err := world.Activate("a", Activation{Powerup: powerups.Ghost, Duration: 5 * time.Second}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	world.Step(tick)
	if entity.X < tuning.PlayWidth-tuning.EntityRadius {
		t.Fatalf("expected ghost to reappear near the right edge, got x=%v", entity.X)
	}
	if entity.VX != -120 {
		t.Fatalf("expected unchanged velocity, got %v", entity.VX)
	}
}

func TestEffectsExpire(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", tuning.Center(), 200, 0, 0)
	if _, err := world.Activate("a", Activation{Powerup: powerups.Ghost, Duration: 100 * time.Millisecond}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := world.Activate("a", Activation{Powerup: powerups.Shield, Duration: time.Second}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	var expired []ExpiredEffect
	for i := 0; i < 7; i++ {
		expired = append(expired, world.Step(tick).Expired...)
	}
	if len(expired) != 1 || expired[0].Kind != EffectGhost {
		t.Fatalf("expected ghost to expire first, got %+v", expired)
	}
	if entity.HasEffect(EffectGhost) || !entity.HasEffect(EffectShield) {
		t.Fatalf("unexpected effects %+v", entity.Effects)
	}
}

func TestBoostDoublesEffectiveVelocityOnly(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", tuning.Center(), 200, 60, 0)
	if _, err := world.Activate("a", Activation{Powerup: powerups.Boost, Duration: time.Second, Multiplier: 2}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	startX := entity.X
	world.Step(tick)
	if want := startX + 120*tick.Seconds(); math.Abs(entity.X-want) > 1e-9 {
		t.Fatalf("expected boosted displacement to %v, got %v", want, entity.X)
	}
	if entity.VX != 60 {
		t.Fatalf("expected stored vx to stay 60, got %v", entity.VX)
	}
}

func TestPowerDropIsVerticalAndHeavier(t *testing.T) {
	tuning := DefaultTuning()
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", tuning.Center()+100, 200, 150, 0)
	if _, err := world.Activate("a", Activation{Powerup: powerups.PowerDrop, Multiplier: 2.5}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	startX := entity.X
	world.Step(tick)
	if entity.VX != 0 || entity.X != startX {
		t.Fatalf("expected vertical-only motion, got vx=%v x=%v", entity.VX, entity.X)
	}
	if want := tuning.Gravity * 2.5 * tick.Seconds(); math.Abs(entity.VY-want) > 1e-9 {
		t.Fatalf("expected vy %v, got %v", want, entity.VY)
	}
}

func TestMagnetPullsTowardCenter(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	left := place(t, world, "left", tuning.Center()-400, 200, 0, 0)
	right := place(t, world, "right", tuning.Center()+400, 600, 0, 0)
	for _, id := range []string{"left", "right"} {
		if _, err := world.Activate(id, Activation{Powerup: powerups.Magnet, Force: 1.5}); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}
	world.Step(tick)
	if left.VX <= 0 || right.VX >= 0 {
		t.Fatalf("expected pull toward center, got left=%v right=%v", left.VX, right.VX)
	}
}

func TestMagnetMovesEntityOnFirstTick(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	tuning.HorizontalDrift = 0
	world := newTestWorld(t, tuning)
	start := tuning.Center() - 400
	entity := place(t, world, "pulled", start, 200, 0, 0)
	if _, err := world.Activate("pulled", Activation{Powerup: powerups.Magnet, Force: 1.5}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	world.Step(tick)
	if entity.VX <= 0 {
		t.Fatalf("expected vx toward center, got %v", entity.VX)
	}
	if entity.X <= start {
		t.Fatalf("expected x to move toward center on the first tick, got %v (start %v)", entity.X, start)
	}
	want := start + entity.VX*tick.Seconds()
	if math.Abs(entity.X-want) > 1e-9 {
		t.Fatalf("x = %v, want %v", entity.X, want)
	}
}

func TestExplosionRespectsShieldAndRadius(t *testing.T) {
	tuning := DefaultTuning()
	world := newTestWorld(t, tuning)
	place(t, world, "bomber", 900, 300, 0, 0)
	a := place(t, world, "a", 1000, 300, 0, 0)
	c := place(t, world, "c", 800, 300, 0, 0)
	far := place(t, world, "far", 1500, 300, 0, 0)
	if _, err := world.Activate("c", Activation{Powerup: powerups.Shield, Duration: 5 * time.Second}); err != nil {
		t.Fatalf("shield: %v", err)
	}

	result, err := world.Activate("bomber", Activation{Powerup: powerups.TNT, Radius: 250, Force: 900, UpwardBoost: 400})
	if err != nil {
		t.Fatalf("tnt: %v", err)
	}
	if !result.Applied || len(result.Pushed) != 1 || result.Pushed[0].EntityID != "a" {
		t.Fatalf("expected only a to be pushed, got %+v", result)
	}
	if len(result.Shielded) != 1 || result.Shielded[0] != "c" {
		t.Fatalf("expected c to be shielded, got %+v", result.Shielded)
	}
	if a.VX <= 0 {
		t.Fatalf("expected outward (positive) vx for a, got %v", a.VX)
	}
	if a.VY >= 0 {
		t.Fatalf("expected upward (negative) vy for a, got %v", a.VY)
	}
	if c.VX != 0 || c.VY != 0 {
		t.Fatalf("expected shielded entity untouched, got vx=%v vy=%v", c.VX, c.VY)
	}
	if far.VX != 0 || far.VY != 0 {
		t.Fatalf("expected entity outside radius untouched")
	}
	bomber, _ := world.Entity("bomber")
	if bomber.VX != 0 || bomber.VY != 0 {
		t.Fatalf("expected activator to be unaffected")
	}
}

func TestActivateOnLandedOrMissingEntity(t *testing.T) {
	tuning := DefaultTuning()
	world := newTestWorld(t, tuning)
	entity := place(t, world, "a", tuning.Center(), tuning.PlatformY, 0, 0)
	world.Step(tick)
	if !entity.Landed {
		t.Fatalf("expected entity to land")
	}
	result, err := world.Activate("a", Activation{Powerup: powerups.Ghost, Duration: time.Second})
	if err != nil || result.Applied {
		t.Fatalf("expected landed activation to be a no-op, got %+v (%v)", result, err)
	}
	if _, err := world.Activate("missing", Activation{Powerup: powerups.Ghost}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestCollisionsSeparateEntities(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Gravity = 0
	world := newTestWorld(t, tuning)
	a := place(t, world, "a", 900, 300, 50, 0)
	b := place(t, world, "b", 940, 300, -50, 0)
	world.Step(tick)
	if dist := math.Hypot(b.X-a.X, b.Y-a.Y); dist < 2*tuning.EntityRadius-1e-9 {
		t.Fatalf("expected entities separated, distance %v", dist)
	}
	if a.VX >= 50 || b.VX <= -50 {
		t.Fatalf("expected approaching velocity to be exchanged, got a=%v b=%v", a.VX, b.VX)
	}
}

func TestRemove(t *testing.T) {
	world := newTestWorld(t, DefaultTuning())
	place(t, world, "a", 100, 100, 0, 0)
	place(t, world, "b", 300, 100, 0, 0)
	if !world.Remove("a") || world.Remove("a") {
		t.Fatalf("expected remove to succeed once")
	}
	snap := world.Snapshot()
	if len(snap) != 1 || snap[0].ID != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
