package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stream-drop/server/internal/cooldown"
	"stream-drop/server/internal/drop"
	"stream-drop/server/internal/economy"
	"stream-drop/server/internal/policy"
	"stream-drop/server/internal/storage/sqlite"
	"stream-drop/server/powerups/catalog"
)

// TestClock is a settable clock shared by the hub, the store and the
// cooldown gate in tests.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewTestHub builds a hub over a temporary sqlite database. The listed
// usernames are exempt from costs and cooldowns.
func NewTestHub(tb testing.TB, mutate func(*HubConfig), admins ...string) (*Hub, *TestClock) {
	tb.Helper()
	hub, clock, _ := NewTestHubWithStore(tb, mutate, admins...)
	return hub, clock
}

// NewTestHubWithStore is NewTestHub that also hands back the store, for tests
// that take the database away underneath the hub.
func NewTestHubWithStore(tb testing.TB, mutate func(*HubConfig), admins ...string) (*Hub, *TestClock, *sqlite.Store) {
	tb.Helper()
	ctx := context.Background()
	clock := &TestClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store, err := sqlite.Open(ctx, filepath.Join(tb.TempDir(), "hub.db"), sqlite.WithClock(clock.Now))
	if err != nil {
		tb.Fatalf("open store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	exempt := policy.NewAllowList(admins...)
	econ, err := economy.New(economy.Config{Store: store, Pricing: catalog.Default(), Exemption: exempt})
	if err != nil {
		tb.Fatalf("new economy: %v", err)
	}
	gate, err := cooldown.NewGate(store, clock, exempt)
	if err != nil {
		tb.Fatalf("new gate: %v", err)
	}
	cfg := DefaultHubConfig()
	cfg.Clock = clock
	cfg.CleanupDelay = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	hub, err := NewHub(cfg, HubDeps{Economy: econ, Cooldowns: gate, Catalog: catalog.Default()})
	if err != nil {
		tb.Fatalf("new hub: %v", err)
	}
	return hub, clock, store
}

// AdvanceForTest steps the simulation once and processes the result
// synchronously.
func (h *Hub) AdvanceForTest(ctx context.Context) drop.StepOutcome {
	return h.advance(ctx)
}
