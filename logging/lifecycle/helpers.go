package lifecycle

import (
	"context"

	"stream-drop/server/logging"
)

const (
	// EventDropCreated is emitted when a viewer's drop session starts.
	EventDropCreated logging.EventType = "lifecycle.drop_created"
	// EventDropRejected is emitted when a drop request is refused.
	EventDropRejected logging.EventType = "lifecycle.drop_rejected"
	// EventDropLanded is emitted when a session's dropper lands.
	EventDropLanded logging.EventType = "lifecycle.drop_landed"
	// EventDropRemoved is emitted when a landed session is cleaned up.
	EventDropRemoved logging.EventType = "lifecycle.drop_removed"
	// EventOverlayJoined is emitted when an overlay subscribes to the state stream.
	EventOverlayJoined logging.EventType = "lifecycle.overlay_joined"
	// EventOverlayLeft is emitted when an overlay subscription ends.
	EventOverlayLeft logging.EventType = "lifecycle.overlay_left"
)

// DropCreatedPayload captures the new session.
type DropCreatedPayload struct {
	SessionID string `json:"sessionId"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	EmoteURL  string `json:"emoteUrl,omitempty"`
}

// DropRejectedPayload captures why a drop was refused.
type DropRejectedPayload struct {
	Reason string `json:"reason"`
}

// DropLandedPayload captures the landing outcome.
type DropLandedPayload struct {
	SessionID string  `json:"sessionId"`
	X         float64 `json:"x"`
	Score     int     `json:"score"`
	Forced    bool    `json:"forced,omitempty"`
}

// DropRemovedPayload captures the removed session.
type DropRemovedPayload struct {
	SessionID string `json:"sessionId"`
}

// OverlayPayload identifies an overlay subscriber.
type OverlayPayload struct {
	SubscriberID string `json:"subscriberId"`
	Reason       string `json:"reason,omitempty"`
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// DropCreated publishes a session start.
func DropCreated(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DropCreatedPayload, extra map[string]any) {
	publish(ctx, pub, EventDropCreated, 0, actor, payload, extra)
}

// DropRejected publishes a refused drop request.
func DropRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DropRejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventDropRejected, 0, actor, payload, extra)
}

// DropLanded publishes a landing.
func DropLanded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DropLandedPayload, extra map[string]any) {
	publish(ctx, pub, EventDropLanded, tick, actor, payload, extra)
}

// DropRemoved publishes a cleanup.
func DropRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DropRemovedPayload, extra map[string]any) {
	publish(ctx, pub, EventDropRemoved, tick, actor, payload, extra)
}

// OverlayJoined publishes a new overlay subscription.
func OverlayJoined(ctx context.Context, pub logging.Publisher, payload OverlayPayload, extra map[string]any) {
	publish(ctx, pub, EventOverlayJoined, 0, logging.EntityRef{ID: payload.SubscriberID, Kind: logging.EntityKindOverlay}, payload, extra)
}

// OverlayLeft publishes the end of an overlay subscription.
func OverlayLeft(ctx context.Context, pub logging.Publisher, payload OverlayPayload, extra map[string]any) {
	publish(ctx, pub, EventOverlayLeft, 0, logging.EntityRef{ID: payload.SubscriberID, Kind: logging.EntityKindOverlay}, payload, extra)
}
