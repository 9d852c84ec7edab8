package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stream-drop/server/internal/storage"
	"stream-drop/server/powerups"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.db")
	store, err := Open(context.Background(), path, WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}

func TestCreditCreatesAccountAndAppendsLedger(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	balance, err := store.Credit(ctx, "alice", storage.BalanceChannel, 120, "chat")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 120 {
		t.Fatalf("expected balance 120, got %d", balance)
	}
	if balance, err = store.Credit(ctx, "alice", storage.BalanceDrop, 7, "drop"); err != nil || balance != 7 {
		t.Fatalf("expected drop balance 7, got %d (%v)", balance, err)
	}

	account, err := store.Account(ctx, "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ChannelPoints != 120 || account.DropPoints != 7 {
		t.Fatalf("unexpected account %+v", account)
	}
	if !account.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("expected injected clock timestamp, got %v", account.CreatedAt)
	}

	entries, err := store.Ledger(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != storage.BalanceDrop || entries[1].Delta != 120 {
		t.Fatalf("unexpected ledger %+v", entries)
	}
}

func TestAccountNotFound(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	if _, err := store.Account(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitRejectsOverdraftWithoutWriting(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.Credit(ctx, "bob", storage.BalanceChannel, 50, "chat"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	outcome, err := store.Debit(ctx, "bob", 80, "tts")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if outcome.OK || outcome.Balance != 50 {
		t.Fatalf("expected rejected debit at balance 50, got %+v", outcome)
	}

	outcome, err = store.Debit(ctx, "bob", 50, "tts")
	if err != nil || !outcome.OK || outcome.Balance != 0 {
		t.Fatalf("expected exact debit to succeed, got %+v (%v)", outcome, err)
	}

	entries, _ := store.Ledger(ctx, "bob", 10)
	if len(entries) != 2 {
		t.Fatalf("expected credit and one debit in ledger, got %d", len(entries))
	}
}

func TestDebitUnknownUserReportsZero(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	outcome, err := store.Debit(context.Background(), "nobody", 1, "tts")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if outcome.OK || outcome.Balance != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if _, err := store.Account(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rejected debit to leave no account, got %v", err)
	}
}

func TestPurchaseIsAllOrNothing(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.Credit(ctx, "carol", storage.BalanceChannel, 500, "chat"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	first, err := store.Purchase(ctx, "carol", powerups.TNT, 500, "powerup:tnt")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if !first.OK || first.Balance != 0 || first.Quantity != 1 {
		t.Fatalf("unexpected first purchase %+v", first)
	}

	second, err := store.Purchase(ctx, "carol", powerups.TNT, 500, "powerup:tnt")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if second.OK || second.Balance != 0 || second.Quantity != 1 {
		t.Fatalf("expected rejected purchase with unchanged state, got %+v", second)
	}

	free, err := store.Purchase(ctx, "carol", powerups.Shield, 0, "powerup:shield")
	if err != nil || !free.OK || free.Quantity != 1 || free.Balance != 0 {
		t.Fatalf("expected free grant, got %+v (%v)", free, err)
	}
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.Credit(ctx, "dave", storage.BalanceChannel, 700, "chat"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.Purchase(ctx, "dave", powerups.TNT, 500, "powerup:tnt")
			if err != nil {
				t.Errorf("purchase: %v", err)
				return
			}
			if outcome.OK {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful purchase, got %d", successes)
	}
	account, err := store.Account(ctx, "dave")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ChannelPoints != 200 || account.Inventory[powerups.TNT] != 1 {
		t.Fatalf("unexpected account after race %+v", account)
	}
}

func TestConcurrentConsumeDecrementsExactlyOnce(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	const units = 5
	for i := 0; i < units; i++ {
		if _, err := store.Purchase(ctx, "erin", powerups.Ghost, 0, "admin"); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < units*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.Consume(ctx, "erin", powerups.Ghost)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if outcome.Remaining < 0 {
				t.Errorf("negative remaining %d", outcome.Remaining)
			}
			if outcome.OK {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != units {
		t.Fatalf("expected %d successful consumes, got %d", units, successes)
	}
	inventory, err := store.Inventory(ctx, "erin")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if inventory[powerups.Ghost] != 0 {
		t.Fatalf("expected empty inventory, got %d", inventory[powerups.Ghost])
	}
}

func TestCommitLandingIsIdempotent(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.CommitLanding(ctx, "session-1", "frank", 110)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !first.Committed || first.DropPoints != 110 || first.TotalDrops != 1 {
		t.Fatalf("unexpected first landing %+v", first)
	}

	replay, err := store.CommitLanding(ctx, "session-1", "frank", 110)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Committed || replay.DropPoints != 110 || replay.TotalDrops != 1 {
		t.Fatalf("expected replay to be a no-op, got %+v", replay)
	}

	miss, err := store.CommitLanding(ctx, "session-2", "frank", 0)
	if err != nil || !miss.Committed || miss.DropPoints != 110 || miss.TotalDrops != 2 {
		t.Fatalf("expected miss to count the drop only, got %+v (%v)", miss, err)
	}

	if _, err := store.CommitLanding(ctx, "session-3", "frank", -1); !errors.Is(err, storage.ErrInvariant) {
		t.Fatalf("expected negative score to be an invariant violation, got %v", err)
	}
}

func TestCheckConstraintMapsToInvariant(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	_, err := store.Credit(context.Background(), "gina", storage.BalanceChannel, -5, "bad")
	if !errors.Is(err, storage.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestClaimCooldownWindow(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, err := store.ClaimCooldown(ctx, "hank", "drop", base, base.Add(30*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got %v (%v)", ok, err)
	}
	ok, err = store.ClaimCooldown(ctx, "hank", "drop", base.Add(10*time.Second), base.Add(40*time.Second))
	if err != nil || ok {
		t.Fatalf("expected claim inside window to fail, got %v (%v)", ok, err)
	}
	ok, err = store.ClaimCooldown(ctx, "hank", "buy", base.Add(10*time.Second), base.Add(40*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected other command to be independent, got %v (%v)", ok, err)
	}
	ok, err = store.ClaimCooldown(ctx, "hank", "drop", base.Add(30*time.Second), base.Add(60*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected claim at expiry to succeed, got %v (%v)", ok, err)
	}
	expiry, found, err := store.CooldownExpiry(ctx, "hank", "drop")
	if err != nil || !found || !expiry.Equal(base.Add(60*time.Second)) {
		t.Fatalf("unexpected expiry %v found=%v err=%v", expiry, found, err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.CommitLanding(ctx, "a", "ivy", 10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.CommitLanding(ctx, "b", "jack", 110); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.CommitLanding(ctx, "c", "ivy", 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.UpdateProfile(ctx, "jack", storage.Profile{Country: "FI"}); err != nil {
		t.Fatalf("profile: %v", err)
	}

	board, err := store.Leaderboard(ctx, 5)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Username != "jack" || board[1].TotalDrops != 2 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
	if board[0].Profile.Country != "FI" {
		t.Fatalf("expected profile to be preserved, got %+v", board[0].Profile)
	}
}
