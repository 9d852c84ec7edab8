package drop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stream-drop/server/internal/physics"
	"stream-drop/server/internal/sim"
	"stream-drop/server/internal/storage"
	"stream-drop/server/logging"
	"stream-drop/server/powerups"
	"stream-drop/server/powerups/catalog"
)

type recordingSim struct {
	mu       sync.Mutex
	commands []sim.Command
	reject   string
	landed   map[string]bool
}

func (s *recordingSim) Enqueue(cmd sim.Command) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != "" {
		return false, s.reject
	}
	s.commands = append(s.commands, cmd)
	return true, ""
}

func (s *recordingSim) Landed(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.landed[sessionID]
}

func (s *recordingSim) markLanded(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.landed == nil {
		s.landed = make(map[string]bool)
	}
	s.landed[sessionID] = true
}

func (s *recordingSim) last() sim.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[len(s.commands)-1]
}

type countingScorer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func (s *countingScorer) OnLanded(_ context.Context, sessionID, username string, score int) (storage.LandingOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return storage.LandingOutcome{}, s.fail
	}
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[sessionID]++
	return storage.LandingOutcome{Committed: s.calls[sessionID] == 1, DropPoints: score, TotalDrops: 1}, nil
}

func newTestManager(t *testing.T, simulation Simulation, scorer Scorer) *Manager {
	t.Helper()
	next := 0
	manager, err := NewManager(Config{
		Simulation:   simulation,
		Scorer:       scorer,
		CleanupDelay: 2 * time.Second,
		NewID: func() string {
			next++
			return fmt.Sprintf("session-%d", next)
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	if _, err := NewManager(Config{Scorer: &countingScorer{}}); err == nil {
		t.Fatalf("expected error without simulation")
	}
	if _, err := NewManager(Config{Simulation: &recordingSim{}}); err == nil {
		t.Fatalf("expected error without scorer")
	}
}

func TestCreateDropTwiceRejectsSecond(t *testing.T) {
	simulation := &recordingSim{}
	manager := newTestManager(t, simulation, &countingScorer{})
	ctx := context.Background()

	first := manager.CreateDrop(ctx, "Alice", "https://cdn/alice.png", "")
	if !first.Accepted || first.SessionID != "session-1" {
		t.Fatalf("expected first drop accepted, got %+v", first)
	}
	second := manager.CreateDrop(ctx, "@alice", "https://cdn/alice.png", "")
	if second.Accepted || second.Reason != ReasonDropInProgress {
		t.Fatalf("expected second drop rejected, got %+v", second)
	}
	if len(simulation.commands) != 1 {
		t.Fatalf("expected one spawn command, got %d", len(simulation.commands))
	}
	cmd := simulation.last()
	if cmd.Type != sim.CommandSpawn || cmd.Spawn == nil || cmd.Spawn.Owner != "alice" {
		t.Fatalf("unexpected spawn command: %+v", cmd)
	}
	if !manager.HasActiveDrop("ALICE") {
		t.Fatalf("expected active drop for alice")
	}
}

func TestCreateDropQueueRejection(t *testing.T) {
	simulation := &recordingSim{reject: sim.CommandRejectQueueFull}
	manager := newTestManager(t, simulation, &countingScorer{})
	result := manager.CreateDrop(context.Background(), "bob", "", "")
	if result.Accepted || result.Reason != sim.CommandRejectQueueFull {
		t.Fatalf("expected queue rejection, got %+v", result)
	}
	if _, ok := manager.Session("bob"); ok {
		t.Fatalf("expected no session after rejection")
	}
}

func TestCreateDropInvalidUsername(t *testing.T) {
	manager := newTestManager(t, &recordingSim{}, &countingScorer{})
	if result := manager.CreateDrop(context.Background(), " @ ", "", ""); result.Accepted || result.Reason != ReasonInvalidUser {
		t.Fatalf("expected invalid username, got %+v", result)
	}
}

func TestActivatePowerupWithoutDrop(t *testing.T) {
	manager := newTestManager(t, &recordingSim{}, &countingScorer{})
	result, err := manager.ActivatePowerup(context.Background(), "carol", powerups.Shield)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.Applied || result.Reason != ReasonNoActiveDrop {
		t.Fatalf("expected no_active_drop, got %+v", result)
	}
}

func TestActivatePowerupUnknownType(t *testing.T) {
	manager := newTestManager(t, &recordingSim{}, &countingScorer{})
	if _, err := manager.ActivatePowerup(context.Background(), "carol", powerups.Type("laser")); err == nil {
		t.Fatalf("expected error for unknown powerup")
	}
}

func TestActivatePowerupEnqueuesCatalogParameters(t *testing.T) {
	simulation := &recordingSim{}
	manager := newTestManager(t, simulation, &countingScorer{})
	ctx := context.Background()
	manager.CreateDrop(ctx, "dave", "", "")

	result, err := manager.ActivatePowerup(ctx, "dave", powerups.TNT)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !result.Applied || result.SessionID != "session-1" {
		t.Fatalf("expected activation applied, got %+v", result)
	}
	cmd := simulation.last()
	if cmd.Type != sim.CommandActivate || cmd.Activate == nil {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	def, _ := catalog.Default().Lookup(powerups.TNT)
	if cmd.Activate.Radius != def.Effect.Radius || cmd.Activate.Force != def.Effect.Force {
		t.Fatalf("expected catalog parameters, got %+v", cmd.Activate)
	}
}

func TestActivationForConvertsDuration(t *testing.T) {
	act := ActivationFor(catalog.Definition{Type: powerups.Ghost, Effect: catalog.Effect{DurationMs: 1500}})
	if act.Duration != 1500*time.Millisecond || act.Powerup != powerups.Ghost {
		t.Fatalf("unexpected activation: %+v", act)
	}
}

func TestOnLandedIsIdempotent(t *testing.T) {
	scorer := &countingScorer{}
	manager := newTestManager(t, &recordingSim{}, scorer)
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "erin", "", "")

	landing := physics.Landing{EntityID: created.SessionID, Owner: "erin", X: 960, Score: 110}
	landed, ok := manager.OnLanded(ctx, landing, 60, time.Second)
	if !ok {
		t.Fatalf("expected first landing processed")
	}
	if !landed.Session.Scored || landed.Session.Score != 110 || !landed.Outcome.Committed {
		t.Fatalf("unexpected landing result: %+v", landed)
	}
	if _, ok := manager.OnLanded(ctx, landing, 60, time.Second); ok {
		t.Fatalf("expected repeated landing to be ignored")
	}
	if scorer.calls[created.SessionID] != 1 {
		t.Fatalf("expected one commit, got %d", scorer.calls[created.SessionID])
	}

	activate, err := manager.ActivatePowerup(ctx, "erin", powerups.Boost)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activate.Applied {
		t.Fatalf("expected landed session to ignore activation")
	}
	if again := manager.CreateDrop(ctx, "erin", "", ""); again.Accepted {
		t.Fatalf("expected drop rejected while landed")
	}
}

func TestActivatePowerupRefusesDropLandedAheadOfSessions(t *testing.T) {
	simulation := &recordingSim{}
	manager := newTestManager(t, simulation, &countingScorer{})
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "jules", "", "")
	simulation.markLanded(created.SessionID)

	if manager.HasActiveDrop("jules") {
		t.Fatalf("expected landed dropper not to count as active")
	}
	queued := len(simulation.commands)
	result, err := manager.ActivatePowerup(ctx, "jules", powerups.Shield)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.Applied || result.Reason != ReasonDropLanded || result.SessionID != created.SessionID {
		t.Fatalf("expected %q for landed dropper, got %+v", ReasonDropLanded, result)
	}
	if len(simulation.commands) != queued {
		t.Fatalf("expected no activation enqueued, got %+v", simulation.last())
	}
}

func TestHandleStepStampsLandingWithStepTick(t *testing.T) {
	var (
		mu     sync.Mutex
		landed []logging.Event
	)
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		if event.Type != "lifecycle.drop_landed" {
			return
		}
		mu.Lock()
		landed = append(landed, event)
		mu.Unlock()
	})
	manager, err := NewManager(Config{Simulation: &recordingSim{}, Scorer: &countingScorer{}, Publisher: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "kim", "", "")
	manager.HandleStep(ctx, sim.LoopStepResult{
		Tick:     42,
		SimTime:  time.Second,
		Landings: []physics.Landing{{EntityID: created.SessionID, Owner: "kim", Score: 10}},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(landed) != 1 || landed[0].Tick != 42 {
		t.Fatalf("expected one landing event at tick 42, got %+v", landed)
	}
}

func TestHandleStepCleansUpAfterDelay(t *testing.T) {
	simulation := &recordingSim{}
	manager := newTestManager(t, simulation, &countingScorer{})
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "frank", "", "")

	out := manager.HandleStep(ctx, sim.LoopStepResult{
		Tick:     10,
		SimTime:  time.Second,
		Landings: []physics.Landing{{EntityID: created.SessionID, Owner: "frank", Score: 10}},
	})
	if len(out.Landed) != 1 || len(out.Removed) != 0 {
		t.Fatalf("unexpected first outcome: %+v", out)
	}

	out = manager.HandleStep(ctx, sim.LoopStepResult{Tick: 11, SimTime: 2 * time.Second})
	if len(out.Removed) != 0 {
		t.Fatalf("expected session kept before cleanup delay")
	}

	out = manager.HandleStep(ctx, sim.LoopStepResult{Tick: 12, SimTime: 3 * time.Second})
	if len(out.Removed) != 1 || out.Removed[0].ID != created.SessionID {
		t.Fatalf("expected session removed, got %+v", out.Removed)
	}
	if cmd := simulation.last(); cmd.Type != sim.CommandRemove || cmd.ActorID != created.SessionID {
		t.Fatalf("expected remove command, got %+v", cmd)
	}
	if again := manager.CreateDrop(ctx, "frank", "", ""); !again.Accepted {
		t.Fatalf("expected new drop accepted after cleanup, got %+v", again)
	}
}

func TestHandleStepRetriesFailedCommit(t *testing.T) {
	scorer := &countingScorer{fail: errors.New("disk unavailable")}
	manager := newTestManager(t, &recordingSim{}, scorer)
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "gina", "", "")

	out := manager.HandleStep(ctx, sim.LoopStepResult{
		SimTime:  time.Second,
		Landings: []physics.Landing{{EntityID: created.SessionID, Owner: "gina", Score: 110}},
	})
	if len(out.Landed) != 1 || out.Landed[0].Err == nil {
		t.Fatalf("expected failed commit to be reported, got %+v", out.Landed)
	}
	if session, _ := manager.Session("gina"); session.Scored {
		t.Fatalf("expected session unscored after failure")
	}

	scorer.mu.Lock()
	scorer.fail = nil
	scorer.mu.Unlock()
	out = manager.HandleStep(ctx, sim.LoopStepResult{SimTime: time.Second + 100*time.Millisecond})
	if len(out.Landed) != 1 || !out.Landed[0].Session.Scored {
		t.Fatalf("expected retry to commit, got %+v", out.Landed)
	}
	if scorer.calls[created.SessionID] != 1 {
		t.Fatalf("expected exactly one successful commit, got %d", scorer.calls[created.SessionID])
	}
}

func TestHandleStepDiscardsRefusedSpawn(t *testing.T) {
	manager := newTestManager(t, &recordingSim{}, &countingScorer{})
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "hal", "", "")
	manager.HandleStep(ctx, sim.LoopStepResult{
		Rejected: []sim.CommandError{{
			Command: sim.Command{ActorID: created.SessionID, Type: sim.CommandSpawn},
			Err:     physics.ErrDuplicateEntity,
		}},
	})
	if _, ok := manager.Session("hal"); ok {
		t.Fatalf("expected refused session discarded")
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	var (
		mu    sync.Mutex
		types []logging.EventType
	)
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		mu.Lock()
		types = append(types, event.Type)
		mu.Unlock()
	})
	manager, err := NewManager(Config{Simulation: &recordingSim{}, Scorer: &countingScorer{}, Publisher: pub, CleanupDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "ivy", "", "")
	manager.CreateDrop(ctx, "ivy", "", "")
	manager.HandleStep(ctx, sim.LoopStepResult{SimTime: time.Second, Landings: []physics.Landing{{EntityID: created.SessionID}}})
	manager.HandleStep(ctx, sim.LoopStepResult{SimTime: 2 * time.Second})

	want := []logging.EventType{"lifecycle.drop_created", "lifecycle.drop_rejected", "lifecycle.drop_landed", "lifecycle.drop_removed"}
	mu.Lock()
	defer mu.Unlock()
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}
}

func TestDropLifecycleAgainstSimulation(t *testing.T) {
	world, err := physics.NewWorld(physics.DefaultTuning(), physics.NewDeterministicRNG("drop-test", "world"))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	loop, err := sim.NewLoop(world, sim.LoopConfig{}, sim.Deps{}, sim.LoopHooks{})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	scorer := &countingScorer{}
	manager, err := NewManager(Config{Simulation: loop, Scorer: scorer, CleanupDelay: time.Second})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	created := manager.CreateDrop(ctx, "jules", "", "")
	if !created.Accepted {
		t.Fatalf("expected drop accepted: %+v", created)
	}
	if _, err := manager.ActivatePowerup(ctx, "jules", powerups.PowerDrop); err != nil {
		t.Fatalf("activate: %v", err)
	}

	var removed bool
	for i := 0; i < 60*60 && !removed; i++ {
		out := manager.HandleStep(ctx, loop.Advance(sim.LoopTickContext{}))
		removed = len(out.Removed) > 0
	}
	if !removed {
		t.Fatalf("expected session to land and be cleaned up")
	}
	loop.Advance(sim.LoopTickContext{})
	if len(loop.Snapshot().Entities) != 0 {
		t.Fatalf("expected entity removed from the world")
	}
	if scorer.calls[created.SessionID] != 1 {
		t.Fatalf("expected one commit, got %d", scorer.calls[created.SessionID])
	}
}
