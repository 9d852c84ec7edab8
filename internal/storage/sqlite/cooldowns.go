package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimCooldown records expiresAt for (username, command) unless an
// unexpired mark exists. The check and the write are one statement.
func (s *Store) ClaimCooldown(ctx context.Context, username, command string, now, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateUsername(username); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cooldowns (username, command, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(username, command) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE cooldowns.expires_at <= ?`,
		username, command, toMillis(expiresAt), toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("claim cooldown: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim cooldown: %w", err)
	}
	return changed == 1, nil
}

// CooldownExpiry returns the stored expiry for (username, command).
func (s *Store) CooldownExpiry(ctx context.Context, username, command string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT expires_at FROM cooldowns WHERE username = ? AND command = ?`,
		username, command,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cooldown: %w", err)
	}
	return fromMillis(expiresAt), true, nil
}
