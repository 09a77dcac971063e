package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/pkg/storage"
	"github.com/tallyhq/tally/pkg/types"
)

func newTestLedger(t *testing.T) (*Ledger, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func validNumbers(t *testing.T, store storage.Store, username string) []int {
	t.Helper()
	tickets, err := store.TicketsFor(context.Background(), username)
	require.NoError(t, err)
	var numbers []int
	for _, ticket := range tickets {
		if ticket.IsValid {
			numbers = append(numbers, ticket.Number)
		}
	}
	return numbers
}

// TestSyncEmptyStore tests an empty store allocating from 1
func TestSyncEmptyStore(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	result, err := ldg.SyncAll(ctx, types.Entries{"alice": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Allocated)
	assert.Empty(t, result.FailedUsers)

	assert.Equal(t, []int{1, 2, 3}, validNumbers(t, store, "alice"))
}

// TestSyncReduceKeepsNewest tests oldest tickets lose validity first
func TestSyncReduceKeepsNewest(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.SyncAll(ctx, types.Entries{"alice": 3})
	require.NoError(t, err)

	result, err := ldg.SyncAll(ctx, types.Entries{"alice": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Invalidated)

	// Highest-numbered ticket stays valid, not the lowest
	assert.Equal(t, []int{3}, validNumbers(t, store, "alice"))

	tickets, err := store.TicketsFor(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, tickets, 3, "rows must survive invalidation")
}

// TestSyncStripsAbsentUsers tests users missing from entries lose all tickets
func TestSyncStripsAbsentUsers(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.SyncAll(ctx, types.Entries{"alice": 3, "bob": 2})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, validNumbers(t, store, "bob"))

	result, err := ldg.SyncAll(ctx, types.Entries{"alice": 3})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stripped)

	assert.Equal(t, []int{1, 2, 3}, validNumbers(t, store, "alice"))
	assert.Empty(t, validNumbers(t, store, "bob"))
}

// TestSyncNeverResurrects tests invalid tickets stay invalid on growth
func TestSyncNeverResurrects(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.Allocate(ctx, "alice", 1, 3))
	require.NoError(t, store.InvalidateTickets(ctx, "alice", []int{2}))

	_, _, err := ldg.ReconcileUser(ctx, "alice", 3)
	require.NoError(t, err)

	// Deficit of 1 is covered by a fresh number, ticket 2 stays invalid
	assert.Equal(t, []int{1, 3, 4}, validNumbers(t, store, "alice"))
}

// TestSyncIdempotent tests repeating a sync changes nothing
func TestSyncIdempotent(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	target := types.Entries{"alice": 3, "bob": 1, "carol": 5}

	first, err := ldg.SyncAll(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 9, first.Allocated)

	second, err := ldg.SyncAll(ctx, target)
	require.NoError(t, err)
	assert.Zero(t, second.Allocated)
	assert.Zero(t, second.Invalidated)
	assert.Zero(t, second.Stripped)

	next, err := store.NextTicketNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, next, "no-op sync must not burn numbers")
}

// TestSyncConvergence tests valid counts equal targets after mixed churn
func TestSyncConvergence(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	cycles := []types.Entries{
		{"alice": 3, "bob": 2},
		{"alice": 1, "bob": 4, "carol": 2},
		{"bob": 4, "carol": 7},
		{"alice": 2, "carol": 1},
	}

	for _, target := range cycles {
		_, err := ldg.SyncAll(ctx, target)
		require.NoError(t, err)

		valid, err := store.AllValidTickets(ctx)
		require.NoError(t, err)
		for username, count := range target {
			assert.Len(t, valid[username], count, "user %s", username)
		}
		for username := range valid {
			_, eligible := target[username]
			assert.True(t, eligible, "user %s holds tickets but is not in entries", username)
		}
	}
}

// TestMonotonicNumbering tests numbers strictly increase across cycles
func TestMonotonicNumbering(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.SyncAll(ctx, types.Entries{"alice": 2})
	require.NoError(t, err)
	_, err = ldg.SyncAll(ctx, types.Entries{"alice": 0})
	require.NoError(t, err)
	_, err = ldg.SyncAll(ctx, types.Entries{"alice": 2})
	require.NoError(t, err)

	tickets, err := store.TicketsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tickets, 4)

	seen := 0
	for _, ticket := range tickets {
		assert.Greater(t, ticket.Number, seen, "numbers must strictly increase")
		seen = ticket.Number
	}
	assert.Equal(t, []int{3, 4}, validNumbers(t, store, "alice"))
}

// TestReconcileNegativeTarget tests negative targets clamp to zero
func TestReconcileNegativeTarget(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ldg.ReconcileUser(ctx, "alice", 3)
	require.NoError(t, err)

	allocated, invalidated, err := ldg.ReconcileUser(ctx, "alice", -2)
	require.NoError(t, err)
	assert.Zero(t, allocated)
	assert.Equal(t, 3, invalidated)
	assert.Empty(t, validNumbers(t, store, "alice"))
}

// TestSyncTargetZeroNoHistory tests a zero-target newcomer is untouched
func TestSyncTargetZeroNoHistory(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	result, err := ldg.SyncAll(ctx, types.Entries{"ghost": 0})
	require.NoError(t, err)
	assert.Zero(t, result.Allocated)
	assert.Zero(t, result.Invalidated)
	assert.Zero(t, result.Stripped)

	tickets, err := store.TicketsFor(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, tickets, "no rows may be created for a zero-target user")
}

// TestReconcileNormalizesUsername tests mixed-case input hits one ledger entry
func TestReconcileNormalizesUsername(t *testing.T) {
	ldg, store := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ldg.ReconcileUser(ctx, "Alice", 2)
	require.NoError(t, err)
	_, _, err = ldg.ReconcileUser(ctx, "ALICE", 2)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, validNumbers(t, store, "alice"))
}
