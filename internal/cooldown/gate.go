// Package cooldown rate-limits commands per user and command name.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stream-drop/server/internal/policy"
	"stream-drop/server/internal/storage"
)

// Store records cooldown marks. ClaimCooldown must check and write in one
// atomic step.
type Store interface {
	ClaimCooldown(ctx context.Context, username, command string, now, expiresAt time.Time) (bool, error)
	CooldownExpiry(ctx context.Context, username, command string) (time.Time, bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Decision is the outcome of TryConsume.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Exempt     bool          `json:"exempt,omitempty"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

type Gate struct {
	store  Store
	clock  Clock
	exempt policy.Exemption
}

func NewGate(store Store, clock Clock, exempt policy.Exemption) (*Gate, error) {
	if store == nil {
		return nil, errors.New("cooldown: store is required")
	}
	if clock == nil {
		clock = systemClock{}
	}
	if exempt == nil {
		exempt = policy.NoExemptions()
	}
	return &Gate{store: store, clock: clock, exempt: exempt}, nil
}

// TryConsume allows the command when no unexpired mark exists and starts a
// new window of length cooldown. Exempt users are allowed without a mark.
func (g *Gate) TryConsume(ctx context.Context, rawUsername, command string, cooldown time.Duration) (Decision, error) {
	username := storage.NormalizeUsername(rawUsername)
	if username == "" {
		return Decision{}, errors.New("cooldown: username is required")
	}
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" {
		return Decision{}, errors.New("cooldown: command is required")
	}
	if g.exempt.IsExempt(username) {
		return Decision{Allowed: true, Exempt: true}, nil
	}
	if cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := g.clock.Now()
	allowed, err := g.store.ClaimCooldown(ctx, username, command, now, now.Add(cooldown))
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown %s/%s: %w", username, command, err)
	}
	if allowed {
		return Decision{Allowed: true}, nil
	}

	decision := Decision{}
	if expiresAt, ok, err := g.store.CooldownExpiry(ctx, username, command); err == nil && ok {
		if wait := expiresAt.Sub(now); wait > 0 {
			decision.RetryAfter = wait
		}
	}
	return decision, nil
}
