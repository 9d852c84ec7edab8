// Package storage defines the durable account model shared by the economy,
// the cooldown gate and their backing stores.
package storage

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"stream-drop/server/powerups"
)

var (
	// ErrNotFound reports a missing account.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvariant reports a write the schema refused because a balance or
	// quantity would have gone negative. Callers treat it as a defect.
	ErrInvariant = errors.New("storage: invariant violation")
)

// BalanceKind selects which point balance a ledger entry touched.
type BalanceKind string

const (
	BalanceChannel BalanceKind = "channel"
	BalanceDrop    BalanceKind = "drop"
)

// Profile holds fields owned by external collaborators that live on the
// account record.
type Profile struct {
	Voice     string `json:"voice,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Account is a read model of one user's durable record.
type Account struct {
	Username      string                `json:"username"`
	ChannelPoints int                   `json:"channelPoints"`
	DropPoints    int                   `json:"dropPoints"`
	TotalDrops    int                   `json:"totalDrops"`
	Inventory     map[powerups.Type]int `json:"inventory,omitempty"`
	Profile       Profile               `json:"profile"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// LedgerEntry records one committed balance change.
type LedgerEntry struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	Kind      BalanceKind `json:"kind"`
	Delta     int         `json:"delta"`
	Source    string      `json:"source"`
	CreatedAt time.Time   `json:"createdAt"`
}

// DebitOutcome is the result of a conditional channel point deduction.
type DebitOutcome struct {
	OK      bool
	Balance int
}

// PurchaseOutcome is the result of an atomic spend plus inventory grant.
type PurchaseOutcome struct {
	OK       bool
	Balance  int
	Quantity int
}

// ConsumeOutcome is the result of a conditional inventory decrement.
type ConsumeOutcome struct {
	OK        bool
	Remaining int
}

// LandingOutcome is the result of banking a drop score. Committed is false
// when the session had already been banked.
type LandingOutcome struct {
	Committed  bool
	DropPoints int
	TotalDrops int
}

// NormalizeUsername folds a chat username into its storage key.
func NormalizeUsername(raw string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	return cases.Fold().String(trimmed)
}
