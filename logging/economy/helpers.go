package economy

import (
	"context"

	"stream-drop/server/logging"
)

const (
	// EventPointsCredited is emitted when channel or drop points are added to an account.
	EventPointsCredited logging.EventType = "economy.points_credited"
	// EventPointsSpent is emitted when channel points are deducted.
	EventPointsSpent logging.EventType = "economy.points_spent"
	// EventSpendRejected is emitted when a spend fails for lack of balance.
	EventSpendRejected logging.EventType = "economy.spend_rejected"
	// EventPowerupPurchased is emitted when a powerup unit is granted.
	EventPowerupPurchased logging.EventType = "economy.powerup_purchased"
	// EventPurchaseRejected is emitted when a powerup purchase fails.
	EventPurchaseRejected logging.EventType = "economy.purchase_rejected"
	// EventPowerupConsumed is emitted when an inventory unit is used.
	EventPowerupConsumed logging.EventType = "economy.powerup_consumed"
	// EventConsumeRejected is emitted when a use request finds an empty inventory.
	EventConsumeRejected logging.EventType = "economy.consume_rejected"
	// EventLandingCommitted is emitted once per drop session when its score is banked.
	EventLandingCommitted logging.EventType = "economy.landing_committed"
	// EventCatalogFallback is emitted when the powerup catalog could not be loaded.
	EventCatalogFallback logging.EventType = "economy.catalog_fallback"
)

// PointsCreditedPayload describes a credit.
type PointsCreditedPayload struct {
	Amount  int    `json:"amount"`
	Balance int    `json:"balance"`
	Kind    string `json:"kind"`
	Source  string `json:"source"`
}

// PointsSpentPayload describes a successful spend.
type PointsSpentPayload struct {
	Amount  int  `json:"amount"`
	Balance int  `json:"balance"`
	Exempt  bool `json:"exempt,omitempty"`
}

// RejectedPayload describes an expected failure outcome.
type RejectedPayload struct {
	Reason  string `json:"reason"`
	Powerup string `json:"powerup,omitempty"`
	Amount  int    `json:"amount,omitempty"`
	Balance int    `json:"balance"`
}

// PowerupPurchasedPayload describes a granted powerup unit.
type PowerupPurchasedPayload struct {
	Powerup  string `json:"powerup"`
	Cost     int    `json:"cost"`
	Balance  int    `json:"balance"`
	Quantity int    `json:"quantity"`
	Exempt   bool   `json:"exempt,omitempty"`
}

// PowerupConsumedPayload describes a used inventory unit.
type PowerupConsumedPayload struct {
	Powerup   string `json:"powerup"`
	Remaining int    `json:"remaining"`
}

// LandingCommittedPayload describes banked drop results.
type LandingCommittedPayload struct {
	SessionID  string `json:"sessionId"`
	Score      int    `json:"score"`
	DropPoints int    `json:"dropPoints"`
	TotalDrops int    `json:"totalDrops"`
}

// CatalogFallbackPayload describes why the built-in catalog is in use.
type CatalogFallbackPayload struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, severity logging.Severity, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryEconomy,
		Payload:  payload,
		Extra:    extra,
	})
}

// PointsCredited publishes a credit event.
func PointsCredited(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PointsCreditedPayload, extra map[string]any) {
	publish(ctx, pub, EventPointsCredited, logging.SeverityInfo, actor, payload, extra)
}

// PointsSpent publishes a spend event.
func PointsSpent(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PointsSpentPayload, extra map[string]any) {
	publish(ctx, pub, EventPointsSpent, logging.SeverityInfo, actor, payload, extra)
}

// SpendRejected publishes an insufficient-balance outcome.
func SpendRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventSpendRejected, logging.SeverityDebug, actor, payload, extra)
}

// PowerupPurchased publishes a purchase event.
func PowerupPurchased(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PowerupPurchasedPayload, extra map[string]any) {
	publish(ctx, pub, EventPowerupPurchased, logging.SeverityInfo, actor, payload, extra)
}

// PurchaseRejected publishes a failed purchase.
func PurchaseRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPurchaseRejected, logging.SeverityDebug, actor, payload, extra)
}

// PowerupConsumed publishes an inventory use.
func PowerupConsumed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PowerupConsumedPayload, extra map[string]any) {
	publish(ctx, pub, EventPowerupConsumed, logging.SeverityInfo, actor, payload, extra)
}

// ConsumeRejected publishes an empty-inventory outcome.
func ConsumeRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventConsumeRejected, logging.SeverityDebug, actor, payload, extra)
}

// LandingCommitted publishes banked drop results.
func LandingCommitted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload LandingCommittedPayload, extra map[string]any) {
	publish(ctx, pub, EventLandingCommitted, logging.SeverityInfo, actor, payload, extra)
}

// CatalogFallback publishes a warning that configuration fell back to defaults.
func CatalogFallback(ctx context.Context, pub logging.Publisher, payload CatalogFallbackPayload, extra map[string]any) {
	publish(ctx, pub, EventCatalogFallback, logging.SeverityWarn, logging.EntityRef{Kind: logging.EntityKindSystem}, payload, extra)
}
