package simulation

import (
	"context"

	"stream-drop/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when the simulation loop exceeds the allotted tick budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventEntityForceLanded is emitted when a dropper exceeds the maximum fall time.
	EventEntityForceLanded logging.EventType = "simulation.entity_force_landed"
	// EventCommandDropped is emitted when a staged command is rejected by the loop.
	EventCommandDropped logging.EventType = "simulation.command_dropped"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// EntityForceLandedPayload captures where a stuck dropper was when it was forced down.
type EntityForceLandedPayload struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// CommandDroppedPayload captures a rejected command.
type CommandDroppedPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// TickBudgetOverrun publishes a warning when the simulation exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// EntityForceLanded publishes a warning for a dropper that never reached the platform.
func EntityForceLanded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityForceLandedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventEntityForceLanded,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// CommandDropped publishes a rejected command.
func CommandDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CommandDroppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCommandDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
