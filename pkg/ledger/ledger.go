package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tallyhq/tally/pkg/events"
	"github.com/tallyhq/tally/pkg/log"
	"github.com/tallyhq/tally/pkg/metrics"
	"github.com/tallyhq/tally/pkg/storage"
	"github.com/tallyhq/tally/pkg/types"
)

// Ledger reconciles per-user valid ticket counts against target entry
// counts. Reconciliation of a single user is a critical section; ticket
// number allocation is additionally serialized across all users so the
// read-max-then-insert sequence never races on the same number.
type Ledger struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	allocMu sync.Mutex

	userMu   sync.Mutex
	userLock map[string]*sync.Mutex
}

// New creates a ledger over the given store. The broker may be nil,
// in which case no events are published.
func New(store storage.Store, broker *events.Broker) *Ledger {
	return &Ledger{
		store:    store,
		broker:   broker,
		logger:   log.WithComponent("ledger"),
		userLock: make(map[string]*sync.Mutex),
	}
}

// ReconcileUser brings one user's valid ticket count to target.
// Reductions invalidate the lowest-numbered valid tickets first, so the
// most recently earned tickets stay valid longest. Negative targets
// clamp to zero. Idempotent: a second call with the same target is a
// no-op. Returns tickets allocated and invalidated.
func (l *Ledger) ReconcileUser(ctx context.Context, username string, target int) (allocated, invalidated int, err error) {
	username = types.NormalizeUsername(username)
	if target < 0 {
		l.logger.Warn().Str("username", username).Int("target", target).
			Msg("negative target entries, clamping to zero")
		metrics.InvalidTargetsTotal.Inc()
		target = 0
	}

	mu := l.lockFor(username)
	mu.Lock()
	defer mu.Unlock()

	tickets, err := l.store.TicketsFor(ctx, username)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load tickets for %s: %w", username, err)
	}

	validCount := 0
	for _, t := range tickets {
		if t.IsValid {
			validCount++
		}
	}

	switch {
	case validCount > target:
		numbers := lowestValid(tickets, validCount-target)
		if err := l.store.InvalidateTickets(ctx, username, numbers); err != nil {
			return 0, 0, fmt.Errorf("failed to invalidate tickets for %s: %w", username, err)
		}
		invalidated = len(numbers)
		metrics.TicketsInvalidatedTotal.Add(float64(invalidated))
		l.publish(events.EventTicketInvalidated, username,
			fmt.Sprintf("invalidated %d tickets for %s", invalidated, username))

	case validCount < target:
		deficit := target - validCount

		l.allocMu.Lock()
		start, err := l.store.NextTicketNumber(ctx)
		if err == nil {
			err = l.store.Allocate(ctx, username, start, deficit)
		}
		l.allocMu.Unlock()

		if err != nil {
			return 0, 0, fmt.Errorf("failed to allocate tickets for %s: %w", username, err)
		}
		allocated = deficit
		metrics.TicketsAllocatedTotal.Add(float64(allocated))
		l.publish(events.EventTicketAllocated, username,
			fmt.Sprintf("allocated tickets %d-%d for %s", start, start+deficit-1, username))
	}

	return allocated, invalidated, nil
}

// SyncAll applies one full reconciliation cycle: strip users holding
// valid tickets who no longer appear in entries, then reconcile every
// user in entries. Per-user failures are recorded and skipped; they
// never abort the rest of the cycle. Re-running with the same entries
// is a no-op.
func (l *Ledger) SyncAll(ctx context.Context, entries types.Entries) (types.SyncResult, error) {
	var result types.SyncResult

	holders, err := l.store.UsersWithValidTickets(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list ticket holders: %w", err)
	}

	for username := range holders {
		if _, eligible := entries[username]; eligible {
			continue
		}
		if err := l.store.InvalidateAll(ctx, username); err != nil {
			l.logger.Error().Err(err).Str("username", username).
				Msg("failed to strip tickets")
			result.FailedUsers = append(result.FailedUsers, username)
			continue
		}
		result.Stripped++
		metrics.UsersStrippedTotal.Inc()
		l.publish(events.EventUserStripped, username,
			fmt.Sprintf("%s no longer eligible, all tickets invalidated", username))
	}

	for _, username := range entries.Usernames() {
		allocated, invalidated, err := l.ReconcileUser(ctx, username, entries[username])
		if err != nil {
			l.logger.Error().Err(err).Str("username", username).
				Msg("failed to reconcile user")
			result.FailedUsers = append(result.FailedUsers, username)
			continue
		}
		result.Users++
		result.Allocated += allocated
		result.Invalidated += invalidated
	}

	return result, nil
}

// lowestValid returns the excess lowest-numbered valid ticket numbers.
// Pure over the in-memory snapshot, which TicketsFor already orders
// ascending; the store applies the result as one batched mutation.
func lowestValid(tickets []types.Ticket, excess int) []int {
	numbers := make([]int, 0, excess)
	for _, t := range tickets {
		if len(numbers) == excess {
			break
		}
		if t.IsValid {
			numbers = append(numbers, t.Number)
		}
	}
	return numbers
}

func (l *Ledger) lockFor(username string) *sync.Mutex {
	l.userMu.Lock()
	defer l.userMu.Unlock()
	mu, ok := l.userLock[username]
	if !ok {
		mu = &sync.Mutex{}
		l.userLock[username] = mu
	}
	return mu
}

func (l *Ledger) publish(eventType events.EventType, username, message string) {
	if l.broker == nil {
		return
	}
	l.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"username": username},
	})
}
