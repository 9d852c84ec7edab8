// Package economy owns every mutation of channel points, drop points and
// powerup inventory. Insufficient balance and empty inventory are reported in
// result structs; errors mean the store failed or the caller passed bad input.
package economy

import (
	"context"
	"errors"
	"fmt"

	"stream-drop/server/internal/policy"
	"stream-drop/server/internal/storage"
	"stream-drop/server/logging"
	loggingeconomy "stream-drop/server/logging/economy"
	"stream-drop/server/powerups"
)

var (
	// ErrInvalidAmount reports a non-positive point amount.
	ErrInvalidAmount = errors.New("economy: amount must be positive")
	// ErrUnknownPowerup reports a type missing from the catalog.
	ErrUnknownPowerup = errors.New("economy: unknown powerup")
	// ErrInvalidUsername reports an empty username.
	ErrInvalidUsername = errors.New("economy: username is required")
)

// Reasons attached to rejected results.
const (
	ReasonInsufficientPoints = "insufficient_points"
	ReasonEmptyInventory     = "empty_inventory"
)

// Source labels where a credit came from. Drop credits land in drop points,
// everything else in channel points.
type Source string

const (
	SourceChat   Source = "chat"
	SourceDrop   Source = "drop"
	SourceRefund Source = "refund"
	SourceAdmin  Source = "admin"
)

// Store is the durable account store.
type Store interface {
	Credit(ctx context.Context, username string, kind storage.BalanceKind, amount int, source string) (int, error)
	Debit(ctx context.Context, username string, amount int, source string) (storage.DebitOutcome, error)
	Purchase(ctx context.Context, username string, typ powerups.Type, cost int, source string) (storage.PurchaseOutcome, error)
	Consume(ctx context.Context, username string, typ powerups.Type) (storage.ConsumeOutcome, error)
	CommitLanding(ctx context.Context, sessionID, username string, score int) (storage.LandingOutcome, error)
	Account(ctx context.Context, username string) (storage.Account, error)
	Inventory(ctx context.Context, username string) (map[powerups.Type]int, error)
	UpdateProfile(ctx context.Context, username string, profile storage.Profile) error
	Leaderboard(ctx context.Context, limit int) ([]storage.Account, error)
	Ledger(ctx context.Context, username string, limit int) ([]storage.LedgerEntry, error)
	Ping(ctx context.Context) error
}

// Pricing resolves powerup costs.
type Pricing interface {
	Cost(typ powerups.Type) (int, bool)
}

// Config wires an Economy.
type Config struct {
	Store     Store
	Pricing   Pricing
	Exemption policy.Exemption
	Publisher logging.Publisher
}

// Economy is safe for concurrent use; atomicity comes from the store.
type Economy struct {
	store   Store
	pricing Pricing
	exempt  policy.Exemption
	pub     logging.Publisher
}

func New(cfg Config) (*Economy, error) {
	if cfg.Store == nil {
		return nil, errors.New("economy: store is required")
	}
	if cfg.Pricing == nil {
		return nil, errors.New("economy: pricing is required")
	}
	exempt := cfg.Exemption
	if exempt == nil {
		exempt = policy.NoExemptions()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Economy{store: cfg.Store, pricing: cfg.Pricing, exempt: exempt, pub: pub}, nil
}

// SpendResult reports a spend attempt. Exempt users always succeed without
// a deduction.
type SpendResult struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Balance int    `json:"balance"`
	Exempt  bool   `json:"exempt,omitempty"`
}

// BuyResult reports a purchase attempt.
type BuyResult struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Balance  int    `json:"balance"`
	Quantity int    `json:"quantity"`
	Cost     int    `json:"cost"`
}

// UseResult reports an inventory use attempt.
type UseResult struct {
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

func normalize(raw string) (string, error) {
	username := storage.NormalizeUsername(raw)
	if username == "" {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// Credit adds amount to the balance selected by source and returns it.
func (e *Economy) Credit(ctx context.Context, rawUsername string, amount int, source Source) (int, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	kind := storage.BalanceChannel
	if source == SourceDrop {
		kind = storage.BalanceDrop
	}
	balance, err := e.store.Credit(ctx, username, kind, amount, string(source))
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", username, err)
	}
	loggingeconomy.PointsCredited(ctx, e.pub, logging.Viewer(username), loggingeconomy.PointsCreditedPayload{
		Amount:  amount,
		Balance: balance,
		Kind:    string(kind),
		Source:  string(source),
	}, nil)
	return balance, nil
}

// Refund returns channel points after a downstream action failed.
func (e *Economy) Refund(ctx context.Context, username string, amount int) (int, error) {
	return e.Credit(ctx, username, amount, SourceRefund)
}

// Spend deducts amount from channel points if the balance covers it.
func (e *Economy) Spend(ctx context.Context, rawUsername string, amount int) (SpendResult, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return SpendResult{}, err
	}
	if amount <= 0 {
		return SpendResult{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	actor := logging.Viewer(username)
	if e.exempt.IsExempt(username) {
		balance, err := e.channelBalance(ctx, username)
		if err != nil {
			return SpendResult{}, err
		}
		loggingeconomy.PointsSpent(ctx, e.pub, actor, loggingeconomy.PointsSpentPayload{Balance: balance, Exempt: true}, nil)
		return SpendResult{OK: true, Balance: balance, Exempt: true}, nil
	}
	outcome, err := e.store.Debit(ctx, username, amount, "spend")
	if err != nil {
		return SpendResult{}, fmt.Errorf("spend %s: %w", username, err)
	}
	if !outcome.OK {
		loggingeconomy.SpendRejected(ctx, e.pub, actor, loggingeconomy.RejectedPayload{
			Reason:  ReasonInsufficientPoints,
			Amount:  amount,
			Balance: outcome.Balance,
		}, nil)
		return SpendResult{Reason: ReasonInsufficientPoints, Balance: outcome.Balance}, nil
	}
	loggingeconomy.PointsSpent(ctx, e.pub, actor, loggingeconomy.PointsSpentPayload{Amount: amount, Balance: outcome.Balance}, nil)
	return SpendResult{OK: true, Balance: outcome.Balance}, nil
}

// BuyPowerup spends the catalog cost and grants one unit atomically. Exempt
// users receive the unit for free.
func (e *Economy) BuyPowerup(ctx context.Context, rawUsername string, typ powerups.Type) (BuyResult, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return BuyResult{}, err
	}
	cost, ok := e.pricing.Cost(typ)
	if !ok {
		return BuyResult{}, fmt.Errorf("%w: %q", ErrUnknownPowerup, typ)
	}
	exempt := e.exempt.IsExempt(username)
	charge := cost
	if exempt {
		charge = 0
	}
	outcome, err := e.store.Purchase(ctx, username, typ, charge, "powerup:"+string(typ))
	if err != nil {
		return BuyResult{}, fmt.Errorf("buy %s for %s: %w", typ, username, err)
	}
	actor := logging.Viewer(username)
	if !outcome.OK {
		loggingeconomy.PurchaseRejected(ctx, e.pub, actor, loggingeconomy.RejectedPayload{
			Reason:  ReasonInsufficientPoints,
			Powerup: string(typ),
			Amount:  cost,
			Balance: outcome.Balance,
		}, nil)
		return BuyResult{
			Reason:   ReasonInsufficientPoints,
			Balance:  outcome.Balance,
			Quantity: outcome.Quantity,
			Cost:     cost,
		}, nil
	}
	loggingeconomy.PowerupPurchased(ctx, e.pub, actor, loggingeconomy.PowerupPurchasedPayload{
		Powerup:  string(typ),
		Cost:     charge,
		Balance:  outcome.Balance,
		Quantity: outcome.Quantity,
		Exempt:   exempt,
	}, nil)
	return BuyResult{OK: true, Balance: outcome.Balance, Quantity: outcome.Quantity, Cost: charge}, nil
}

// UsePowerup removes one unit of typ from the inventory if any remain.
// Exemption does not apply.
func (e *Economy) UsePowerup(ctx context.Context, rawUsername string, typ powerups.Type) (UseResult, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return UseResult{}, err
	}
	if !typ.Valid() {
		return UseResult{}, fmt.Errorf("%w: %q", ErrUnknownPowerup, typ)
	}
	outcome, err := e.store.Consume(ctx, username, typ)
	if err != nil {
		return UseResult{}, fmt.Errorf("use %s for %s: %w", typ, username, err)
	}
	actor := logging.Viewer(username)
	if !outcome.OK {
		loggingeconomy.ConsumeRejected(ctx, e.pub, actor, loggingeconomy.RejectedPayload{
			Reason:  ReasonEmptyInventory,
			Powerup: string(typ),
		}, nil)
		return UseResult{Reason: ReasonEmptyInventory, Remaining: outcome.Remaining}, nil
	}
	loggingeconomy.PowerupConsumed(ctx, e.pub, actor, loggingeconomy.PowerupConsumedPayload{
		Powerup:   string(typ),
		Remaining: outcome.Remaining,
	}, nil)
	return UseResult{OK: true, Remaining: outcome.Remaining}, nil
}

// CommitLanding banks a drop score and counts the drop in one transaction.
// Repeated calls for the same session change nothing.
func (e *Economy) CommitLanding(ctx context.Context, sessionID, rawUsername string, score int) (storage.LandingOutcome, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return storage.LandingOutcome{}, err
	}
	if score < 0 {
		return storage.LandingOutcome{}, fmt.Errorf("%w: score %d", ErrInvalidAmount, score)
	}
	outcome, err := e.store.CommitLanding(ctx, sessionID, username, score)
	if err != nil {
		return storage.LandingOutcome{}, fmt.Errorf("commit landing %s: %w", sessionID, err)
	}
	if outcome.Committed {
		loggingeconomy.LandingCommitted(ctx, e.pub, logging.Viewer(username), loggingeconomy.LandingCommittedPayload{
			SessionID:  sessionID,
			Score:      score,
			DropPoints: outcome.DropPoints,
			TotalDrops: outcome.TotalDrops,
		}, nil)
	}
	return outcome, nil
}

func (e *Economy) channelBalance(ctx context.Context, username string) (int, error) {
	account, err := e.store.Account(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", username, err)
	}
	return account.ChannelPoints, nil
}
