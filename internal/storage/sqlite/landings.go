package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stream-drop/server/internal/storage"
)

// CommitLanding banks score as drop points and counts the drop, once per
// session. A repeated call for the same session returns the current totals
// with Committed false.
func (s *Store) CommitLanding(ctx context.Context, sessionID, username string, score int) (storage.LandingOutcome, error) {
	if strings.TrimSpace(sessionID) == "" {
		return storage.LandingOutcome{}, errors.New("session id is required")
	}
	if err := validateUsername(username); err != nil {
		return storage.LandingOutcome{}, err
	}
	if score < 0 {
		return storage.LandingOutcome{}, fmt.Errorf("%w: negative score %d", storage.ErrInvariant, score)
	}
	var outcome storage.LandingOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		res, err := tx.ExecContext(ctx,
			`INSERT INTO drop_landings (session_id, username, score, landed_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			sessionID, username, score, now,
		)
		if err != nil {
			return fmt.Errorf("record landing: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record landing: %w", err)
		}
		if inserted == 0 {
			err := tx.QueryRowContext(ctx,
				`SELECT drop_points, total_drops FROM accounts WHERE username = ?`, username,
			).Scan(&outcome.DropPoints, &outcome.TotalDrops)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("read landing totals: %w", err)
			}
			return nil
		}
		if err := ensureAccount(ctx, tx, username, now); err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx,
			`UPDATE accounts SET drop_points = drop_points + ?, total_drops = total_drops + 1, updated_at = ?
			 WHERE username = ? RETURNING drop_points, total_drops`,
			score, now, username,
		).Scan(&outcome.DropPoints, &outcome.TotalDrops)
		if err != nil {
			return fmt.Errorf("bank landing: %w", err)
		}
		if score > 0 {
			if err := appendLedger(ctx, tx, username, storage.BalanceDrop, score, "drop:"+sessionID, now); err != nil {
				return err
			}
		}
		outcome.Committed = true
		return nil
	})
	if err != nil {
		return storage.LandingOutcome{}, err
	}
	return outcome, nil
}
