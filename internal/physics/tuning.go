package physics

import (
	"errors"
	"time"
)

// Tuning holds the game constants. Velocities are in play units per second,
// accelerations in units per second squared. Y grows downward.
type Tuning struct {
	PlayWidth    float64
	PlayHeight   float64
	PlatformY    float64
	EntityRadius float64

	Gravity               float64
	BounceDamping         float64
	MinHorizontalVelocity float64
	MaxHorizontalVelocity float64
	HorizontalDrift       float64

	PlatformWidthRatio float64
	CenterBandRatio    float64
	SpawnBandRatio     float64

	BasePoints        int
	CenterBonusPoints int

	MaxFallTime time.Duration
}

func DefaultTuning() Tuning {
	return Tuning{
		PlayWidth:             1920,
		PlayHeight:            1080,
		PlatformY:             1000,
		EntityRadius:          32,
		Gravity:               450,
		BounceDamping:         0.6,
		MinHorizontalVelocity: -180,
		MaxHorizontalVelocity: 180,
		HorizontalDrift:       240,
		PlatformWidthRatio:    0.25,
		CenterBandRatio:       0.2,
		SpawnBandRatio:        0.5,
		BasePoints:            10,
		CenterBonusPoints:     100,
		MaxFallTime:           30 * time.Second,
	}
}

// Validate rejects tunings that cannot produce a landing.
func (t Tuning) Validate() error {
	switch {
	case t.PlayWidth <= 0:
		return errors.New("physics: play width must be positive")
	case t.PlatformY <= 0:
		return errors.New("physics: platform y must be positive")
	case t.MinHorizontalVelocity > t.MaxHorizontalVelocity:
		return errors.New("physics: min horizontal velocity exceeds max")
	case t.PlatformWidthRatio <= 0 || t.PlatformWidthRatio > 1:
		return errors.New("physics: platform width ratio must be in (0, 1]")
	case t.CenterBandRatio < 0 || t.CenterBandRatio > 1:
		return errors.New("physics: center band ratio must be in [0, 1]")
	case t.BounceDamping < 0 || t.BounceDamping > 1:
		return errors.New("physics: bounce damping must be in [0, 1]")
	case t.BasePoints < 0 || t.CenterBonusPoints < 0:
		return errors.New("physics: points must not be negative")
	case t.MaxFallTime <= 0:
		return errors.New("physics: max fall time must be positive")
	}
	return nil
}

// Center is the platform's horizontal midpoint.
func (t Tuning) Center() float64 {
	return t.PlayWidth / 2
}

// HalfWidth is half of the platform's horizontal extent.
func (t Tuning) HalfWidth() float64 {
	return t.PlatformWidthRatio * t.PlayWidth / 2
}

// Score converts a landing x into points: zero off the platform, base points
// on it and the bonus inside the center band.
func (t Tuning) Score(x float64) int {
	offset := x - t.Center()
	if offset < 0 {
		offset = -offset
	}
	half := t.HalfWidth()
	if offset > half {
		return 0
	}
	if offset <= half*t.CenterBandRatio {
		return t.BasePoints + t.CenterBonusPoints
	}
	return t.BasePoints
}
