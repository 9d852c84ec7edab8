package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stream-drop/server/internal/cooldown"
	"stream-drop/server/internal/drop"
	"stream-drop/server/internal/economy"
	"stream-drop/server/internal/physics"
	"stream-drop/server/internal/scoring"
	"stream-drop/server/internal/sim"
	"stream-drop/server/internal/telemetry"
	"stream-drop/server/logging"
	"stream-drop/server/powerups"
	"stream-drop/server/powerups/catalog"
)

// ActivationPolicy decides what happens when a viewer activates a powerup
// without a drop in flight.
type ActivationPolicy string

const (
	// ActivationConsume spends the unit even when no dropper can receive it.
	ActivationConsume ActivationPolicy = "consume"
	// ActivationRequireDrop rejects the activation before touching inventory.
	ActivationRequireDrop ActivationPolicy = "require_drop"
)

// ParseActivationPolicy maps a configuration value to a policy.
func ParseActivationPolicy(raw string) (ActivationPolicy, error) {
	switch ActivationPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ActivationConsume:
		return ActivationConsume, nil
	case ActivationRequireDrop:
		return ActivationRequireDrop, nil
	default:
		return "", fmt.Errorf("unknown activation policy %q", raw)
	}
}

// CooldownConfig sets the per-command windows. Zero disables a window.
type CooldownConfig struct {
	Drop     time.Duration
	Buy      time.Duration
	Activate time.Duration
}

// HubConfig tunes the simulation and command layer.
type HubConfig struct {
	Tuning           physics.Tuning
	Seed             string
	TickRate         int
	CatchupMaxTicks  int
	CommandCapacity  int
	PerActorLimit    int
	BroadcastEvery   int
	CleanupDelay     time.Duration
	Cooldowns        CooldownConfig
	ActivationPolicy ActivationPolicy

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Clock   logging.Clock
}

// DefaultHubConfig returns the production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Tuning:           physics.DefaultTuning(),
		Seed:             physics.DefaultSeed,
		TickRate:         60,
		CatchupMaxTicks:  5,
		CommandCapacity:  1024,
		PerActorLimit:    8,
		BroadcastEvery:   2,
		CleanupDelay:     drop.DefaultCleanupDelay,
		Cooldowns:        CooldownConfig{Drop: 30 * time.Second, Buy: 3 * time.Second, Activate: 3 * time.Second},
		ActivationPolicy: ActivationConsume,
	}
}

// HubDeps are the durable collaborators the hub drives.
type HubDeps struct {
	Economy   *economy.Economy
	Cooldowns *cooldown.Gate
	Catalog   *catalog.Catalog
	Publisher logging.Publisher
}

// Hub wires the command surface to the economy, the drop sessions and the
// simulation loop, and fans state out to overlay subscribers.
type Hub struct {
	config HubConfig
	deps   HubDeps
	logger telemetry.Logger
	clock  logging.Clock

	loop  *sim.Loop
	drops *drop.Manager

	steps    chan sim.LoopStepResult
	stop     chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	subscribers map[string]*subscriber

	telemetry *telemetryCounters
}

// NewHub builds the simulation and session manager. Run starts the loop.
func NewHub(cfg HubConfig, deps HubDeps) (*Hub, error) {
	if deps.Economy == nil {
		return nil, errors.New("server: economy is required")
	}
	if deps.Cooldowns == nil {
		return nil, errors.New("server: cooldown gate is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Seed == "" {
		cfg.Seed = physics.DefaultSeed
	}
	if cfg.ActivationPolicy == "" {
		cfg.ActivationPolicy = ActivationConsume
	}

	world, err := physics.NewWorld(cfg.Tuning, physics.NewDeterministicRNG(cfg.Seed, "world"))
	if err != nil {
		return nil, fmt.Errorf("server: build world: %w", err)
	}

	h := &Hub{
		config:      cfg,
		deps:        deps,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		steps:       make(chan sim.LoopStepResult, stepBacklog),
		stop:        make(chan struct{}),
		subscribers: make(map[string]*subscriber),
		telemetry:   newTelemetryCounters(),
	}

	loop, err := sim.NewLoop(world, sim.LoopConfig{
		TickRate:        cfg.TickRate,
		CatchupMaxTicks: cfg.CatchupMaxTicks,
		CommandCapacity: cfg.CommandCapacity,
		PerActorLimit:   cfg.PerActorLimit,
		WarningStep:     cfg.CommandCapacity / 4,
	}, sim.Deps{
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
		Clock:     cfg.Clock,
		Publisher: deps.Publisher,
	}, sim.LoopHooks{
		AfterStep: h.afterStep,
		OnQueueWarning: func(length int) {
			h.logger.Printf("[sim] command queue length=%d", length)
		},
	})
	if err != nil {
		return nil, err
	}
	h.loop = loop

	drops, err := drop.NewManager(drop.Config{
		Simulation:   loop,
		Scorer:       scoring.NewFeedback(deps.Economy),
		Effects:      deps.Catalog,
		CleanupDelay: cfg.CleanupDelay,
		Clock:        cfg.Clock,
		Logger:       cfg.Logger,
		Publisher:    deps.Publisher,
	})
	if err != nil {
		return nil, err
	}
	h.drops = drops
	return h, nil
}

// Run drives the tick loop and the step dispatcher until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		h.stopOnce.Do(func() { close(h.stop) })
		return nil
	})
	group.Go(func() error {
		return h.loop.Run(groupCtx)
	})
	group.Go(func() error {
		return h.dispatch(groupCtx)
	})
	return group.Wait()
}

// afterStep runs on the tick goroutine. Steps that carry landings or refused
// spawns must reach the dispatcher; plain steps are dropped under backlog.
func (h *Hub) afterStep(result sim.LoopStepResult) {
	if len(result.Landings) > 0 || len(result.Rejected) > 0 || len(result.Activations) > 0 {
		select {
		case h.steps <- result:
		case <-h.stop:
		}
		return
	}
	select {
	case h.steps <- result:
	default:
		h.telemetry.stepsDropped.Add(1)
	}
}

func (h *Hub) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-h.steps:
			h.handleStep(ctx, result)
		}
	}
}

// advance steps the simulation once on the caller's goroutine.
func (h *Hub) advance(ctx context.Context) drop.StepOutcome {
	return h.handleStep(ctx, h.loop.Advance(sim.LoopTickContext{Now: h.clock.Now()}))
}

func (h *Hub) handleStep(ctx context.Context, result sim.LoopStepResult) drop.StepOutcome {
	h.telemetry.RecordTickDuration(result.Duration)
	out := h.drops.HandleStep(ctx, result)

	for _, applied := range result.Activations {
		if applied.Activation.Powerup != powerups.TNT {
			continue
		}
		h.broadcastExplosion(result, applied)
	}
	for _, landed := range out.Landed {
		if landed.Err != nil {
			h.telemetry.commitFailures.Add(1)
			continue
		}
		h.telemetry.landings.Add(1)
		h.broadcastLanding(result.Tick, landed)
	}
	every := uint64(h.config.BroadcastEvery)
	if every == 0 {
		every = 1
	}
	if result.Tick%every == 0 || len(out.Landed) > 0 || len(out.Removed) > 0 {
		h.broadcastState(result.Snapshot)
	}
	return out
}

// Snapshot returns the latest published world state.
func (h *Hub) Snapshot() sim.Snapshot {
	return h.loop.Snapshot()
}

// Sessions lists tracked drop sessions.
func (h *Hub) Sessions() []drop.Session {
	return h.drops.Sessions()
}

// Tuning exposes the physics constants in use.
func (h *Hub) Tuning() physics.Tuning {
	return h.config.Tuning
}

// TickRate reports simulation steps per second.
func (h *Hub) TickRate() int {
	if h.config.TickRate <= 0 {
		return 60
	}
	return h.config.TickRate
}

// TelemetrySnapshot copies the broadcast and step counters.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.telemetry.Snapshot()
}

// DiagnosticsSnapshot lists overlay subscribers and sessions.
func (h *Hub) DiagnosticsSnapshot() ([]diagnosticsSubscriber, []diagnosticsSession) {
	h.mu.Lock()
	subs := make([]diagnosticsSubscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub.diagnostics())
	}
	h.mu.Unlock()

	sessions := h.drops.Sessions()
	out := make([]diagnosticsSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, diagnosticsSession{ID: s.ID, Username: s.Username, State: string(s.State), Scored: s.Scored})
	}
	return subs, out
}
