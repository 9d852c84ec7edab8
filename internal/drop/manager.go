// Package drop owns drop sessions: at most one in-flight drop per viewer,
// from creation through landing and cleanup.
package drop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stream-drop/server/internal/physics"
	"stream-drop/server/internal/sim"
	"stream-drop/server/internal/storage"
	"stream-drop/server/internal/telemetry"
	"stream-drop/server/logging"
	"stream-drop/server/logging/lifecycle"
	"stream-drop/server/powerups"
	"stream-drop/server/powerups/catalog"
)

const (
	ReasonDropInProgress = "drop_in_progress"
	ReasonNoActiveDrop   = "no_active_drop"
	ReasonDropLanded     = sim.CommandRejectLanded
	ReasonInvalidUser    = "invalid_username"

	DefaultCleanupDelay = 5 * time.Second
)

// State is the lifecycle position of a session. Absent sessions are not stored.
type State string

const (
	StateActive State = "active"
	StateLanded State = "landed"
)

// Simulation accepts commands for the next tick. Landed reflects steps that
// have run, which may be ahead of HandleStep.
type Simulation interface {
	Enqueue(cmd sim.Command) (bool, string)
	Landed(sessionID string) bool
}

// Scorer commits a landing exactly once per session.
type Scorer interface {
	OnLanded(ctx context.Context, sessionID, username string, score int) (storage.LandingOutcome, error)
}

// Effects resolves the physics parameters of a powerup.
type Effects interface {
	Lookup(typ powerups.Type) (catalog.Definition, bool)
}

// Session is a copy of one drop's bookkeeping.
type Session struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	AvatarURL string        `json:"avatarUrl,omitempty"`
	EmoteURL  string        `json:"emoteUrl,omitempty"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"createdAt"`
	LandedAt  time.Duration `json:"landedAt,omitempty"`
	Score     int           `json:"score"`
	Forced    bool          `json:"forced,omitempty"`
	Scored    bool          `json:"scored"`
}

type session struct {
	Session
	committing bool
}

// Config wires a Manager.
type Config struct {
	Simulation   Simulation
	Scorer       Scorer
	Effects      Effects
	CleanupDelay time.Duration
	Clock        logging.Clock
	Logger       telemetry.Logger
	Publisher    logging.Publisher
	NewID        func() string
}

// CreateResult reports the outcome of CreateDrop.
type CreateResult struct {
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ActivateResult reports the outcome of ActivatePowerup. Applied is false
// when no drop is airborne; the caller has already consumed the unit.
type ActivateResult struct {
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Landed describes a session whose landing was processed.
type Landed struct {
	Session Session
	X       float64
	Outcome storage.LandingOutcome
	Err     error
}

// StepOutcome is what HandleStep did with one simulation step.
type StepOutcome struct {
	Landed  []Landed
	Removed []Session
}

// Manager tracks sessions keyed by normalized username.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	byUser map[string]*session
	byID   map[string]*session
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Simulation == nil {
		return nil, errors.New("drop: simulation is required")
	}
	if cfg.Scorer == nil {
		return nil, errors.New("drop: scorer is required")
	}
	if cfg.Effects == nil {
		cfg.Effects = catalog.Default()
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = DefaultCleanupDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Manager{
		cfg:    cfg,
		byUser: make(map[string]*session),
		byID:   make(map[string]*session),
	}, nil
}

// CreateDrop starts a drop for the viewer unless one is already active or
// landed. The dropper enters the world on the next tick.
func (m *Manager) CreateDrop(ctx context.Context, rawUsername, avatarURL, emoteURL string) CreateResult {
	username := storage.NormalizeUsername(rawUsername)
	if username == "" {
		return CreateResult{Reason: ReasonInvalidUser}
	}
	actor := logging.Viewer(username)

	m.mu.Lock()
	if existing, ok := m.byUser[username]; ok {
		id := existing.ID
		m.mu.Unlock()
		lifecycle.DropRejected(ctx, m.cfg.Publisher, actor, lifecycle.DropRejectedPayload{Reason: ReasonDropInProgress}, map[string]any{"sessionId": id})
		return CreateResult{Reason: ReasonDropInProgress, SessionID: id}
	}
	s := &session{Session: Session{
		ID:        m.cfg.NewID(),
		Username:  username,
		AvatarURL: avatarURL,
		EmoteURL:  emoteURL,
		State:     StateActive,
		CreatedAt: m.cfg.Clock.Now(),
	}}
	ok, reason := m.cfg.Simulation.Enqueue(sim.Command{
		ActorID: s.ID,
		Type:    sim.CommandSpawn,
		Spawn:   &sim.SpawnCommand{Owner: username, AvatarURL: avatarURL, EmoteURL: emoteURL},
	})
	if !ok {
		m.mu.Unlock()
		lifecycle.DropRejected(ctx, m.cfg.Publisher, actor, lifecycle.DropRejectedPayload{Reason: reason}, nil)
		return CreateResult{Reason: reason}
	}
	m.byUser[username] = s
	m.byID[s.ID] = s
	m.mu.Unlock()

	lifecycle.DropCreated(ctx, m.cfg.Publisher, actor, lifecycle.DropCreatedPayload{
		SessionID: s.ID,
		AvatarURL: avatarURL,
		EmoteURL:  emoteURL,
	}, nil)
	return CreateResult{Accepted: true, SessionID: s.ID}
}

// ActivatePowerup applies an already paid-for powerup to the viewer's active
// dropper. Landed or absent sessions leave physics untouched.
func (m *Manager) ActivatePowerup(ctx context.Context, rawUsername string, typ powerups.Type) (ActivateResult, error) {
	def, ok := m.cfg.Effects.Lookup(typ)
	if !ok {
		return ActivateResult{}, fmt.Errorf("drop: unknown powerup %q", typ)
	}
	username := storage.NormalizeUsername(rawUsername)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[username]
	if !ok || s.State != StateActive {
		return ActivateResult{Reason: ReasonNoActiveDrop}, nil
	}
	if m.cfg.Simulation.Landed(s.ID) {
		return ActivateResult{Reason: ReasonDropLanded, SessionID: s.ID}, nil
	}
	act := ActivationFor(def)
	queued, reason := m.cfg.Simulation.Enqueue(sim.Command{
		ActorID:  s.ID,
		Type:     sim.CommandActivate,
		Activate: &act,
	})
	if !queued {
		return ActivateResult{Reason: reason, SessionID: s.ID}, nil
	}
	return ActivateResult{Applied: true, SessionID: s.ID}, nil
}

// ActivationFor converts a catalog entry into physics parameters.
func ActivationFor(def catalog.Definition) physics.Activation {
	return physics.Activation{
		Powerup:     def.Type,
		Radius:      def.Effect.Radius,
		Force:       def.Effect.Force,
		UpwardBoost: def.Effect.UpwardBoost,
		Duration:    time.Duration(def.Effect.DurationMs) * time.Millisecond,
		Multiplier:  def.Effect.Multiplier,
	}
}

// HasActiveDrop reports whether the viewer has a drop that has not landed.
func (m *Manager) HasActiveDrop(rawUsername string) bool {
	username := storage.NormalizeUsername(rawUsername)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[username]
	return ok && s.State == StateActive && !m.cfg.Simulation.Landed(s.ID)
}

// Session returns the viewer's current session.
func (m *Manager) Session(rawUsername string) (Session, bool) {
	username := storage.NormalizeUsername(rawUsername)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[username]
	if !ok {
		return Session{}, false
	}
	return s.Session, true
}

// Sessions lists every tracked session ordered by creation time.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s.Session)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
