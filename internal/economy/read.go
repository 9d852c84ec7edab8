package economy

import (
	"context"
	"errors"
	"fmt"

	"stream-drop/server/internal/storage"
	"stream-drop/server/powerups"
)

// Account returns the read model for username. Unknown users get an empty
// record rather than an error.
func (e *Economy) Account(ctx context.Context, rawUsername string) (storage.Account, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return storage.Account{}, err
	}
	account, err := e.store.Account(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Account{Username: username, Inventory: fillInventory(nil)}, nil
	}
	if err != nil {
		return storage.Account{}, fmt.Errorf("account %s: %w", username, err)
	}
	account.Inventory = fillInventory(account.Inventory)
	return account, nil
}

// Inventory maps every powerup type to the quantity held.
func (e *Economy) Inventory(ctx context.Context, rawUsername string) (map[powerups.Type]int, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return nil, err
	}
	held, err := e.store.Inventory(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", username, err)
	}
	return fillInventory(held), nil
}

func fillInventory(held map[powerups.Type]int) map[powerups.Type]int {
	out := make(map[powerups.Type]int, len(powerups.All()))
	for _, typ := range powerups.All() {
		out[typ] = held[typ]
	}
	return out
}

// UpdateProfile stores the externally owned profile fields.
func (e *Economy) UpdateProfile(ctx context.Context, rawUsername string, profile storage.Profile) error {
	username, err := normalize(rawUsername)
	if err != nil {
		return err
	}
	if err := e.store.UpdateProfile(ctx, username, profile); err != nil {
		return fmt.Errorf("update profile %s: %w", username, err)
	}
	return nil
}

func (e *Economy) Leaderboard(ctx context.Context, limit int) ([]storage.Account, error) {
	accounts, err := e.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return accounts, nil
}

func (e *Economy) Ledger(ctx context.Context, rawUsername string, limit int) ([]storage.LedgerEntry, error) {
	username, err := normalize(rawUsername)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.Ledger(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", username, err)
	}
	return entries, nil
}

// Ping reports whether the account store is reachable.
func (e *Economy) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}
