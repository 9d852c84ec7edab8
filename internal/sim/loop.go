package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stream-drop/server/internal/physics"
	"stream-drop/server/logging"
	loggingpowerups "stream-drop/server/logging/powerups"
	loggingsimulation "stream-drop/server/logging/simulation"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectLanded indicates an activation aimed at a dropper that has
	// already landed.
	CommandRejectLanded = "drop_landed"

	tickDurationMetricKey = "sim_tick_duration_micros"
	tickOverrunMetricKey  = "sim_tick_overrun_total"
	ticksSkippedMetricKey = "sim_ticks_skipped_total"
	entitiesMetricKey     = "sim_entities"
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	if c.CatchupMaxTicks <= 0 {
		c.CatchupMaxTicks = 1
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 1024
	}
	return c
}

// LoopHooks receives loop callbacks. AfterStep runs on the loop goroutine
// and must not block for long.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// LoopTickContext identifies a single step.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta time.Duration
}

// CommandError pairs a command with the reason the world rejected it.
type CommandError struct {
	Command Command
	Err     error
}

// AppliedActivation reports a powerup that took effect this step.
type AppliedActivation struct {
	SessionID  string
	Owner      string
	Activation physics.Activation
	Result     physics.ActivationResult
}

// Snapshot is the read model of the world published after every step.
type Snapshot struct {
	Tick     uint64                   `json:"tick"`
	SimTime  time.Duration            `json:"simTime"`
	Entities []physics.EntitySnapshot `json:"entities"`
}

// LoopStepResult summarises one step.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        time.Duration
	SimTime      time.Duration
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	Commands     []Command
	Rejected     []CommandError
	Spawned      []string
	Activations  []AppliedActivation
	Removed      []string
	Landings     []physics.Landing
	Expired      []physics.ExpiredEffect
	Snapshot     Snapshot
}

// Loop coordinates command ingestion and the fixed-timestep simulation runner.
// Enqueue is safe from any goroutine; Advance and Run must have one caller.
type Loop struct {
	world  *physics.World
	buffer *CommandBuffer
	hooks  LoopHooks
	config LoopConfig
	deps   Deps

	// queueMu also spans each step, so an activation accepted by Enqueue
	// always reaches an airborne dropper.
	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
	landed        map[string]struct{}

	snapshot      atomic.Pointer[Snapshot]
	overrunStreak uint64
}

// NewLoop wraps the world with a ring-buffer queue and loop.
func NewLoop(world *physics.World, cfg LoopConfig, deps Deps, hooks LoopHooks) (*Loop, error) {
	if world == nil {
		return nil, errors.New("sim: world is nil")
	}
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	loop := &Loop{
		world:         world,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		hooks:         hooks,
		config:        cfg,
		deps:          deps,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
		landed:        make(map[string]struct{}),
	}
	loop.snapshot.Store(&Snapshot{Entities: world.Snapshot()})
	return loop, nil
}

// TickInterval is the fixed simulated time of one step.
func (l *Loop) TickInterval() time.Duration {
	return time.Second / time.Duration(l.config.TickRate)
}

// Snapshot returns the state published after the latest step.
func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	return *l.snapshot.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Landed reports whether the actor's dropper reached the platform in a step
// that has already run.
func (l *Loop) Landed(actorID string) bool {
	if l == nil {
		return false
	}
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	_, ok := l.landed[actorID]
	return ok
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
// Activations for landed droppers are refused.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = l.deps.Clock.Now()
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if cmd.Type == CommandActivate {
		if _, ok := l.landed[cmd.ActorID]; ok {
			l.queueMu.Unlock()
			return false, CommandRejectLanded
		}
	}
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
			if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
				l.perActorCount[cmd.ActorID]--
			}
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance applies the staged commands and steps the world once. The world's
// own tick counter is authoritative; ctx.Tick is ignored.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	if ctx.Delta <= 0 {
		ctx.Delta = l.TickInterval()
	}
	l.queueMu.Lock()
	commands := l.drainLocked()
	result := LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Commands: commands,
	}
	for _, cmd := range commands {
		l.apply(cmd, &result)
	}

	step := l.world.Step(ctx.Delta)
	result.Tick = step.Tick
	result.SimTime = step.Now
	result.Landings = step.Landings
	result.Expired = step.Expired
	for _, landing := range step.Landings {
		l.landed[landing.EntityID] = struct{}{}
	}

	snapshot := &Snapshot{Tick: result.Tick, SimTime: step.Now, Entities: l.world.Snapshot()}
	l.snapshot.Store(snapshot)
	l.queueMu.Unlock()
	result.Snapshot = *snapshot
	l.deps.Metrics.Store(entitiesMetricKey, uint64(len(snapshot.Entities)))

	l.publishStep(result)
	return result
}

func (l *Loop) apply(cmd Command, result *LoopStepResult) {
	var err error
	switch cmd.Type {
	case CommandSpawn:
		spec := physics.SpawnSpec{ID: cmd.ActorID}
		if cmd.Spawn != nil {
			spec.Owner = cmd.Spawn.Owner
			spec.AvatarURL = cmd.Spawn.AvatarURL
			spec.EmoteURL = cmd.Spawn.EmoteURL
		}
		if _, err = l.world.Spawn(spec); err == nil {
			result.Spawned = append(result.Spawned, cmd.ActorID)
		}
	case CommandActivate:
		if cmd.Activate == nil {
			err = errors.New("sim: activate command without payload")
			break
		}
		var outcome physics.ActivationResult
		outcome, err = l.world.Activate(cmd.ActorID, *cmd.Activate)
		if err == nil && outcome.Applied {
			entity, _ := l.world.Entity(cmd.ActorID)
			result.Activations = append(result.Activations, AppliedActivation{
				SessionID:  cmd.ActorID,
				Owner:      entity.Owner,
				Activation: *cmd.Activate,
				Result:     outcome,
			})
		}
	case CommandRemove:
		delete(l.landed, cmd.ActorID)
		if l.world.Remove(cmd.ActorID) {
			result.Removed = append(result.Removed, cmd.ActorID)
		}
	default:
		err = fmt.Errorf("sim: unknown command type %q", cmd.Type)
	}
	if err != nil {
		result.Rejected = append(result.Rejected, CommandError{Command: cmd, Err: err})
		l.deps.Logger.Printf("[sim] rejected command actor=%s type=%s: %v", cmd.ActorID, cmd.Type, err)
	}
}

func (l *Loop) publishStep(result LoopStepResult) {
	ctx := context.Background()
	pub := l.deps.Publisher
	for _, applied := range result.Activations {
		actor := logging.Session(applied.SessionID)
		loggingpowerups.Applied(ctx, pub, result.Tick, actor, loggingpowerups.AppliedPayload{
			Powerup:    string(applied.Activation.Powerup),
			DurationMs: applied.Activation.Duration.Milliseconds(),
		}, map[string]any{"owner": applied.Owner})
		if len(applied.Result.Pushed) == 0 && len(applied.Result.Shielded) == 0 {
			continue
		}
		targets := make([]logging.EntityRef, 0, len(applied.Result.Pushed))
		for _, push := range applied.Result.Pushed {
			targets = append(targets, logging.Session(push.EntityID))
		}
		entity := findEntity(result.Snapshot.Entities, applied.SessionID)
		loggingpowerups.Explosion(ctx, pub, result.Tick, actor, targets, loggingpowerups.ExplosionPayload{
			X:        entity.X,
			Y:        entity.Y,
			Radius:   applied.Activation.Radius,
			Affected: len(applied.Result.Pushed),
			Shielded: len(applied.Result.Shielded),
		}, nil)
	}
	for _, expired := range result.Expired {
		loggingpowerups.Expired(ctx, pub, result.Tick, logging.Session(expired.EntityID), loggingpowerups.ExpiredPayload{
			Effect: string(expired.Kind),
		}, nil)
	}
	for _, landing := range result.Landings {
		if !landing.Forced {
			continue
		}
		loggingsimulation.EntityForceLanded(ctx, pub, result.Tick, logging.Session(landing.EntityID), loggingsimulation.EntityForceLandedPayload{
			X:              landing.X,
			Y:              landing.Y,
			ElapsedSeconds: landing.Elapsed.Seconds(),
		}, map[string]any{"owner": landing.Owner})
	}
}

func findEntity(entities []physics.EntitySnapshot, id string) physics.EntitySnapshot {
	for _, entity := range entities {
		if entity.ID == id {
			return entity
		}
	}
	return physics.EntitySnapshot{}
}

// Run drives the fixed-timestep loop until ctx is cancelled. Wall time is
// accumulated and paid back in whole ticks, at most CatchupMaxTicks per wake.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return errors.New("sim: loop is nil")
	}
	interval := l.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	clock := l.deps.Clock
	last := clock.Now()
	var (
		accumulator time.Duration
		tick        uint64
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := clock.Now()
			elapsed := now.Sub(last)
			last = now
			if elapsed <= 0 {
				elapsed = interval
			}
			accumulator += elapsed

			steps := int(accumulator / interval)
			clamped := false
			if steps > l.config.CatchupMaxTicks {
				skipped := steps - l.config.CatchupMaxTicks
				l.deps.Metrics.Add(ticksSkippedMetricKey, uint64(skipped))
				steps = l.config.CatchupMaxTicks
				accumulator = 0
				clamped = true
			} else {
				accumulator -= time.Duration(steps) * interval
			}

			for i := 0; i < steps; i++ {
				tick++
				start := clock.Now()
				result := l.Advance(LoopTickContext{Tick: tick, Now: now, Delta: interval})
				result.Duration = clock.Now().Sub(start)
				result.Budget = interval
				result.ClampedDelta = clamped
				l.observeDuration(result)
				if l.hooks.AfterStep != nil {
					l.hooks.AfterStep(result)
				}
			}
		}
	}
}

func (l *Loop) observeDuration(result LoopStepResult) {
	l.deps.Metrics.Store(tickDurationMetricKey, uint64(result.Duration.Microseconds()))
	if result.Budget <= 0 || result.Duration <= result.Budget {
		l.overrunStreak = 0
		return
	}
	l.overrunStreak++
	l.deps.Metrics.Add(tickOverrunMetricKey, 1)
	loggingsimulation.TickBudgetOverrun(context.Background(), l.deps.Publisher, result.Tick, loggingsimulation.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(result.Budget),
		Streak:         l.overrunStreak,
	}, nil)
}

func (l *Loop) drainLocked() []Command {
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	loggingsimulation.CommandDropped(context.Background(), l.deps.Publisher, 0, logging.Session(cmd.ActorID), loggingsimulation.CommandDroppedPayload{
		Command: string(cmd.Type),
		Reason:  reason,
	}, nil)
	if count > 0 && count&(count-1) == 0 {
		l.deps.Logger.Printf(
			"[backpressure] dropping command actor=%s type=%s count=%d limit=%d",
			cmd.ActorID,
			cmd.Type,
			count,
			l.config.PerActorLimit,
		)
	}
}
