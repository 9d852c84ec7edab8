package server

import (
	"context"

	"stream-drop/server/internal/drop"
	"stream-drop/server/internal/economy"
	"stream-drop/server/internal/storage"
	"stream-drop/server/powerups"
	"stream-drop/server/powerups/catalog"
)

// RequestDrop starts a drop for the viewer. A viewer whose drop is still in
// flight is refused before the cooldown is consumed.
func (h *Hub) RequestDrop(ctx context.Context, username, avatarURL, emoteURL string) (DropResult, error) {
	if storage.NormalizeUsername(username) == "" {
		return DropResult{Reason: CommandRejectInvalidUser}, nil
	}
	if session, ok := h.drops.Session(username); ok {
		return DropResult{Reason: drop.ReasonDropInProgress, SessionID: session.ID}, nil
	}
	decision, err := h.deps.Cooldowns.TryConsume(ctx, username, CommandDrop, h.config.Cooldowns.Drop)
	if err != nil {
		return DropResult{}, err
	}
	if !decision.Allowed {
		return DropResult{Reason: CommandRejectCooldown, RetryAfter: decision.RetryAfter}, nil
	}
	created := h.drops.CreateDrop(ctx, username, avatarURL, emoteURL)
	return DropResult{Accepted: created.Accepted, Reason: created.Reason, SessionID: created.SessionID}, nil
}

// BuyPowerup purchases one unit for the viewer.
func (h *Hub) BuyPowerup(ctx context.Context, username, rawType string) (BuyResult, error) {
	typ, ok := powerups.Parse(rawType)
	if !ok {
		return BuyResult{Reason: CommandRejectUnknownPowerup, Powerup: rawType}, nil
	}
	if storage.NormalizeUsername(username) == "" {
		return BuyResult{Reason: CommandRejectInvalidUser, Powerup: typ.String()}, nil
	}
	decision, err := h.deps.Cooldowns.TryConsume(ctx, username, CommandBuy, h.config.Cooldowns.Buy)
	if err != nil {
		return BuyResult{}, err
	}
	if !decision.Allowed {
		return BuyResult{Reason: CommandRejectCooldown, Powerup: typ.String(), RetryAfter: decision.RetryAfter}, nil
	}
	bought, err := h.deps.Economy.BuyPowerup(ctx, username, typ)
	if err != nil {
		return BuyResult{}, err
	}
	return BuyResult{
		Success:  bought.OK,
		Reason:   bought.Reason,
		Powerup:  typ.String(),
		Balance:  bought.Balance,
		Quantity: bought.Quantity,
		Cost:     bought.Cost,
	}, nil
}

// ActivatePowerup consumes one unit and hands the effect to the viewer's
// dropper. Under ActivationConsume the unit is spent even without a drop.
func (h *Hub) ActivatePowerup(ctx context.Context, username, rawType string) (ActivateResult, error) {
	typ, ok := powerups.Parse(rawType)
	if !ok {
		return ActivateResult{Reason: CommandRejectUnknownPowerup, Powerup: rawType}, nil
	}
	if storage.NormalizeUsername(username) == "" {
		return ActivateResult{Reason: CommandRejectInvalidUser, Powerup: typ.String()}, nil
	}
	if h.config.ActivationPolicy == ActivationRequireDrop && !h.drops.HasActiveDrop(username) {
		return ActivateResult{Reason: CommandRejectNoActiveDrop, Powerup: typ.String()}, nil
	}
	decision, err := h.deps.Cooldowns.TryConsume(ctx, username, CommandActivate, h.config.Cooldowns.Activate)
	if err != nil {
		return ActivateResult{}, err
	}
	if !decision.Allowed {
		return ActivateResult{Reason: CommandRejectCooldown, Powerup: typ.String(), RetryAfter: decision.RetryAfter}, nil
	}
	used, err := h.deps.Economy.UsePowerup(ctx, username, typ)
	if err != nil {
		return ActivateResult{}, err
	}
	if !used.OK {
		return ActivateResult{Reason: used.Reason, Powerup: typ.String(), Remaining: used.Remaining}, nil
	}
	applied, err := h.drops.ActivatePowerup(ctx, username, typ)
	if err != nil {
		return ActivateResult{}, err
	}
	return ActivateResult{
		Success:   true,
		Applied:   applied.Applied,
		Reason:    applied.Reason,
		Powerup:   typ.String(),
		Remaining: used.Remaining,
		SessionID: applied.SessionID,
	}, nil
}

// ListPowerups returns the catalog in display order.
func (h *Hub) ListPowerups() []catalog.Definition {
	return h.deps.Catalog.List()
}

// ListInventory returns the viewer's quantity of every powerup type.
func (h *Hub) ListInventory(ctx context.Context, username string) (map[powerups.Type]int, error) {
	return h.deps.Economy.Inventory(ctx, username)
}

// Account returns the viewer's account read model.
func (h *Hub) Account(ctx context.Context, username string) (storage.Account, error) {
	return h.deps.Economy.Account(ctx, username)
}

// Ping checks that the account store still answers.
func (h *Hub) Ping(ctx context.Context) error {
	return h.deps.Economy.Ping(ctx)
}

func (h *Hub) Leaderboard(ctx context.Context, limit int) ([]storage.Account, error) {
	return h.deps.Economy.Leaderboard(ctx, limit)
}

func (h *Hub) Ledger(ctx context.Context, username string, limit int) ([]storage.LedgerEntry, error) {
	return h.deps.Economy.Ledger(ctx, username, limit)
}

// Credit adds channel points earned from chat activity.
func (h *Hub) Credit(ctx context.Context, username string, amount int, source economy.Source) (int, error) {
	return h.deps.Economy.Credit(ctx, username, amount, source)
}

func (h *Hub) Spend(ctx context.Context, username string, amount int) (economy.SpendResult, error) {
	return h.deps.Economy.Spend(ctx, username, amount)
}

func (h *Hub) Refund(ctx context.Context, username string, amount int) (int, error) {
	return h.deps.Economy.Refund(ctx, username, amount)
}

func (h *Hub) UpdateProfile(ctx context.Context, username string, profile storage.Profile) error {
	return h.deps.Economy.UpdateProfile(ctx, username, profile)
}
