package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/pkg/types"
)

var (
	// ErrUnavailable means the underlying persistence cannot be
	// reached; the current cycle aborts and retries on the next tick.
	ErrUnavailable = errors.New("ticket store unavailable")

	// ErrDuplicateTicket means an allocation collided with an existing
	// ticket number. Allocation is serialized, so this indicates a
	// concurrency-control bug rather than a transient condition.
	ErrDuplicateTicket = errors.New("duplicate ticket number")
)

// Store is the ticket ledger contract. Tickets are append-only: numbers
// come from a single global sequence shared by all users, rows are
// never deleted or renumbered, and only the validity flag ever changes.
type Store interface {
	// Ping health checks the store.
	Ping(ctx context.Context) error

	// NextTicketNumber returns max(ticket_number)+1 over the whole
	// store, 1 if empty.
	NextTicketNumber(ctx context.Context) (int, error)

	// TicketsFor returns every ticket ever issued to the user,
	// ascending by number.
	TicketsFor(ctx context.Context, username string) ([]types.Ticket, error)

	// Allocate creates count tickets numbered start..start+count-1 for
	// the user, all valid. Fails with ErrDuplicateTicket if any number
	// already exists.
	Allocate(ctx context.Context, username string, start, count int) error

	// InvalidateLowestValid flips the user's lowest-numbered valid
	// ticket to invalid. Returns false if the user has none valid.
	InvalidateLowestValid(ctx context.Context, username string) (bool, error)

	// InvalidateTickets flips the given ticket numbers, which must
	// belong to the user, to invalid.
	InvalidateTickets(ctx context.Context, username string, numbers []int) error

	// InvalidateAll flips every valid ticket held by the user.
	InvalidateAll(ctx context.Context, username string) error

	// UsersWithValidTickets returns the set of users currently holding
	// at least one valid ticket.
	UsersWithValidTickets(ctx context.Context) (map[string]struct{}, error)

	// AllValidTickets returns every user's valid ticket numbers,
	// ascending per user.
	AllValidTickets(ctx context.Context) (map[string][]int, error)

	Close() error
}

// PeriodTable returns the ledger namespace for the given time. The
// ledger rotates monthly; the active period's table is treated as one
// opaque namespace and numbering restarts with it.
func PeriodTable(t time.Time) string {
	return "tickets_" + t.Format("200601")
}

// New builds a Store from config.
func New(ctx context.Context, cfg types.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "bolt":
		return NewBoltStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage.type is invalid: %q (want bolt or postgres)", cfg.Type)
	}
}
