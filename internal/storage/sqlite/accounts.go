package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stream-drop/server/internal/storage"
	"stream-drop/server/powerups"
)

func balanceColumn(kind storage.BalanceKind) (string, error) {
	switch kind {
	case storage.BalanceChannel:
		return "channel_points", nil
	case storage.BalanceDrop:
		return "drop_points", nil
	default:
		return "", fmt.Errorf("unknown balance kind %q", kind)
	}
}

// Credit adds amount to the selected balance, creating the account if needed.
func (s *Store) Credit(ctx context.Context, username string, kind storage.BalanceKind, amount int, source string) (int, error) {
	if err := validateUsername(username); err != nil {
		return 0, err
	}
	column, err := balanceColumn(kind)
	if err != nil {
		return 0, err
	}
	var balance int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		if err := ensureAccount(ctx, tx, username, now); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`UPDATE accounts SET `+column+` = `+column+` + ?, updated_at = ?
			 WHERE username = ? RETURNING `+column,
			amount, now, username,
		)
		if err := row.Scan(&balance); err != nil {
			return fmt.Errorf("credit %s points: %w", kind, err)
		}
		return appendLedger(ctx, tx, username, kind, amount, source, now)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit removes amount from channel points only if the balance covers it.
func (s *Store) Debit(ctx context.Context, username string, amount int, source string) (storage.DebitOutcome, error) {
	if err := validateUsername(username); err != nil {
		return storage.DebitOutcome{}, err
	}
	var outcome storage.DebitOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		ok, balance, err := debitChannel(ctx, tx, username, amount, now)
		if err != nil {
			return err
		}
		outcome = storage.DebitOutcome{OK: ok, Balance: balance}
		if !ok {
			return errRejected
		}
		return appendLedger(ctx, tx, username, storage.BalanceChannel, -amount, source, now)
	})
	if err != nil {
		return storage.DebitOutcome{}, err
	}
	return outcome, nil
}

func debitChannel(ctx context.Context, tx *sql.Tx, username string, amount int, now int64) (bool, int, error) {
	var balance int
	err := tx.QueryRowContext(ctx,
		`UPDATE accounts SET channel_points = channel_points - ?, updated_at = ?
		 WHERE username = ? AND channel_points >= ? RETURNING channel_points`,
		amount, now, username, amount,
	).Scan(&balance)
	if err == nil {
		return true, balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("debit channel points: %w", err)
	}
	current, err := channelBalance(ctx, tx, username)
	if err != nil {
		return false, 0, err
	}
	return false, current, nil
}

func channelBalance(ctx context.Context, tx *sql.Tx, username string) (int, error) {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT channel_points FROM accounts WHERE username = ?`, username).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read channel points: %w", err)
	}
	return balance, nil
}

func quantityOf(ctx context.Context, tx *sql.Tx, username string, typ powerups.Type) (int, error) {
	var quantity int
	err := tx.QueryRowContext(ctx,
		`SELECT quantity FROM powerup_inventory WHERE username = ? AND powerup = ?`,
		username, string(typ),
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read inventory: %w", err)
	}
	return quantity, nil
}

// Purchase deducts cost (when positive) and grants one unit of typ in the
// same transaction. A failed deduction changes nothing.
func (s *Store) Purchase(ctx context.Context, username string, typ powerups.Type, cost int, source string) (storage.PurchaseOutcome, error) {
	if err := validateUsername(username); err != nil {
		return storage.PurchaseOutcome{}, err
	}
	var outcome storage.PurchaseOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		if cost > 0 {
			ok, balance, err := debitChannel(ctx, tx, username, cost, now)
			if err != nil {
				return err
			}
			outcome.Balance = balance
			if !ok {
				quantity, err := quantityOf(ctx, tx, username, typ)
				if err != nil {
					return err
				}
				outcome.Quantity = quantity
				return errRejected
			}
			if err := appendLedger(ctx, tx, username, storage.BalanceChannel, -cost, source, now); err != nil {
				return err
			}
		} else {
			if err := ensureAccount(ctx, tx, username, now); err != nil {
				return err
			}
			balance, err := channelBalance(ctx, tx, username)
			if err != nil {
				return err
			}
			outcome.Balance = balance
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO powerup_inventory (username, powerup, quantity, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(username, powerup) DO UPDATE SET quantity = quantity + 1, updated_at = excluded.updated_at
			 RETURNING quantity`,
			username, string(typ), now,
		).Scan(&outcome.Quantity)
		if err != nil {
			return fmt.Errorf("grant powerup: %w", err)
		}
		outcome.OK = true
		return nil
	})
	if err != nil {
		return storage.PurchaseOutcome{}, err
	}
	return outcome, nil
}

// Consume decrements one unit of typ if any remain.
func (s *Store) Consume(ctx context.Context, username string, typ powerups.Type) (storage.ConsumeOutcome, error) {
	if err := validateUsername(username); err != nil {
		return storage.ConsumeOutcome{}, err
	}
	var outcome storage.ConsumeOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE powerup_inventory SET quantity = quantity - 1, updated_at = ?
			 WHERE username = ? AND powerup = ? AND quantity > 0 RETURNING quantity`,
			toMillis(s.now()), username, string(typ),
		).Scan(&outcome.Remaining)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = storage.ConsumeOutcome{}
			return errRejected
		}
		if err != nil {
			return fmt.Errorf("consume powerup: %w", err)
		}
		outcome.OK = true
		return nil
	})
	if err != nil {
		return storage.ConsumeOutcome{}, err
	}
	return outcome, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `username, channel_points, drop_points, total_drops, voice, avatar_url, country, created_at, updated_at`

func scanAccount(row rowScanner) (storage.Account, error) {
	var (
		account   storage.Account
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&account.Username,
		&account.ChannelPoints,
		&account.DropPoints,
		&account.TotalDrops,
		&account.Profile.Voice,
		&account.Profile.AvatarURL,
		&account.Profile.Country,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Account{}, err
	}
	account.CreatedAt = fromMillis(createdAt)
	account.UpdatedAt = fromMillis(updatedAt)
	return account, nil
}

func loadInventory(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, username string) (map[powerups.Type]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT powerup, quantity FROM powerup_inventory WHERE username = ? ORDER BY powerup`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()
	inventory := make(map[powerups.Type]int)
	for rows.Next() {
		var (
			name     string
			quantity int
		)
		if err := rows.Scan(&name, &quantity); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		inventory[powerups.Type(name)] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return inventory, nil
}

// Account returns the record and inventory for username.
func (s *Store) Account(ctx context.Context, username string) (storage.Account, error) {
	var account storage.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
		found, err := scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		inventory, err := loadInventory(ctx, tx, username)
		if err != nil {
			return err
		}
		found.Inventory = inventory
		account = found
		return nil
	})
	if err != nil {
		return storage.Account{}, err
	}
	return account, nil
}

// Inventory returns stored quantities for username; unknown users have none.
func (s *Store) Inventory(ctx context.Context, username string) (map[powerups.Type]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loadInventory(ctx, s.sqlDB, username)
}

// UpdateProfile replaces the externally owned profile fields.
func (s *Store) UpdateProfile(ctx context.Context, username string, profile storage.Profile) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		if err := ensureAccount(ctx, tx, username, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE accounts SET voice = ?, avatar_url = ?, country = ?, updated_at = ? WHERE username = ?`,
			profile.Voice, profile.AvatarURL, profile.Country, now, username,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
}

// Leaderboard lists accounts by drop points, then total drops.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 ORDER BY drop_points DESC, total_drops DESC, username ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()
	var accounts []storage.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return accounts, nil
}

// Ledger returns the most recent balance changes for username, newest first.
func (s *Store) Ledger(ctx context.Context, username string, limit int) ([]storage.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, username, kind, delta, source, created_at FROM ledger
		 WHERE username = ? ORDER BY id DESC LIMIT ?`,
		username, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	var entries []storage.LedgerEntry
	for rows.Next() {
		var (
			entry     storage.LedgerEntry
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Username, &kind, &entry.Delta, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		entry.Kind = storage.BalanceKind(kind)
		entry.CreatedAt = fromMillis(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}
