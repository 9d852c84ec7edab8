package drop

import (
	"context"
	"time"

	"stream-drop/server/internal/physics"
	"stream-drop/server/internal/sim"
	"stream-drop/server/logging"
	"stream-drop/server/logging/lifecycle"
)

// HandleStep folds one simulation step into session state: spawns the world
// refused are dropped, landings are scored and sessions past the cleanup
// delay are removed. It performs storage I/O and must not run on the tick
// goroutine.
func (m *Manager) HandleStep(ctx context.Context, step sim.LoopStepResult) StepOutcome {
	var out StepOutcome
	for _, rejected := range step.Rejected {
		if rejected.Command.Type == sim.CommandSpawn {
			m.discard(rejected.Command.ActorID)
		}
	}
	for _, landing := range step.Landings {
		if landed, ok := m.OnLanded(ctx, landing, step.Tick, step.SimTime); ok {
			out.Landed = append(out.Landed, landed)
		}
	}
	out.Landed = append(out.Landed, m.retryUnscored(ctx)...)
	out.Removed = m.cleanup(ctx, step.Tick, step.SimTime)
	return out
}

// OnLanded moves the session to landed and commits its score. Repeated calls
// for the same session report false and never credit twice.
func (m *Manager) OnLanded(ctx context.Context, landing physics.Landing, tick uint64, at time.Duration) (Landed, bool) {
	m.mu.Lock()
	s, ok := m.byID[landing.EntityID]
	if !ok || s.State != StateActive {
		m.mu.Unlock()
		return Landed{}, false
	}
	s.State = StateLanded
	s.LandedAt = at
	s.Score = landing.Score
	s.Forced = landing.Forced
	s.committing = true
	snapshot := s.Session
	m.mu.Unlock()

	lifecycle.DropLanded(ctx, m.cfg.Publisher, tick, logging.Viewer(snapshot.Username), lifecycle.DropLandedPayload{
		SessionID: snapshot.ID,
		X:         landing.X,
		Score:     landing.Score,
		Forced:    landing.Forced,
	}, nil)

	landed := m.commit(ctx, snapshot)
	landed.X = landing.X
	return landed, true
}

func (m *Manager) commit(ctx context.Context, snapshot Session) Landed {
	outcome, err := m.cfg.Scorer.OnLanded(ctx, snapshot.ID, snapshot.Username, snapshot.Score)
	m.mu.Lock()
	if s, ok := m.byID[snapshot.ID]; ok {
		s.committing = false
		if err == nil {
			s.Scored = true
		}
		snapshot = s.Session
	}
	m.mu.Unlock()
	if err != nil {
		m.cfg.Logger.Printf("[drop] commit landing session=%s user=%s failed: %v", snapshot.ID, snapshot.Username, err)
	}
	return Landed{Session: snapshot, Outcome: outcome, Err: err}
}

func (m *Manager) retryUnscored(ctx context.Context) []Landed {
	var pending []Session
	m.mu.Lock()
	for _, s := range m.byID {
		if s.State == StateLanded && !s.Scored && !s.committing {
			s.committing = true
			pending = append(pending, s.Session)
		}
	}
	m.mu.Unlock()

	var out []Landed
	for _, snapshot := range pending {
		landed := m.commit(ctx, snapshot)
		if landed.Err == nil {
			out = append(out, landed)
		}
	}
	return out
}

func (m *Manager) cleanup(ctx context.Context, tick uint64, now time.Duration) []Session {
	var removed []Session
	m.mu.Lock()
	for id, s := range m.byID {
		if s.State != StateLanded || s.committing || now-s.LandedAt < m.cfg.CleanupDelay {
			continue
		}
		if ok, reason := m.cfg.Simulation.Enqueue(sim.Command{ActorID: id, Type: sim.CommandRemove}); !ok {
			m.cfg.Logger.Printf("[drop] cleanup of session=%s deferred: %s", id, reason)
			continue
		}
		if !s.Scored {
			m.cfg.Logger.Printf("[drop] removing unscored session=%s user=%s", id, s.Username)
		}
		delete(m.byID, id)
		if current, ok := m.byUser[s.Username]; ok && current == s {
			delete(m.byUser, s.Username)
		}
		removed = append(removed, s.Session)
	}
	m.mu.Unlock()

	for _, s := range removed {
		lifecycle.DropRemoved(ctx, m.cfg.Publisher, tick, logging.Viewer(s.Username), lifecycle.DropRemovedPayload{SessionID: s.ID}, nil)
	}
	return removed
}

func (m *Manager) discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.State != StateActive {
		return
	}
	delete(m.byID, id)
	if current, ok := m.byUser[s.Username]; ok && current == s {
		delete(m.byUser, s.Username)
	}
	m.cfg.Logger.Printf("[drop] spawn for session=%s was refused; session discarded", id)
}
