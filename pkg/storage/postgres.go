package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/tally/pkg/types"
)

// PostgresStore implements Store on a pgx connection pool. One row per
// ticket, ticket_number as primary key; the table name carries the
// ledger period and is resolved once at construction.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string // schema-qualified, sanitized
}

// NewPostgresStore connects to the configured database and ensures the
// current period's ticket table exists.
func NewPostgresStore(ctx context.Context, cfg types.StorageConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, PeriodTable(time.Now())}.Sanitize(),
	}

	if err := s.ensureTable(ctx, pgx.Identifier{schema}.Sanitize()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context, schema string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`create schema if not exists %s`, schema))
	if err != nil {
		return s.wrap(err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		create table if not exists %s (
			ticket_number integer primary key,
			username text not null,
			is_valid boolean not null default true,
			created_at timestamptz not null default now()
		)`, s.table))
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) NextTicketNumber(ctx context.Context) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		select coalesce(max(ticket_number), 0) + 1 from %s`, s.table)).Scan(&next)
	if err != nil {
		return 0, s.wrap(err)
	}
	return next, nil
}

func (s *PostgresStore) TicketsFor(ctx context.Context, username string) ([]types.Ticket, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		select ticket_number, username, is_valid, created_at
		from %s
		where username = $1
		order by ticket_number`, s.table), types.NormalizeUsername(username))
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var tickets []types.Ticket
	for rows.Next() {
		var t types.Ticket
		if err := rows.Scan(&t.Number, &t.Username, &t.IsValid, &t.CreatedAt); err != nil {
			return nil, s.wrap(err)
		}
		tickets = append(tickets, t)
	}
	return tickets, s.wrap(rows.Err())
}

// Allocate inserts the whole run of numbers in a single statement, so
// the uniqueness check and the writes share one transaction boundary.
func (s *PostgresStore) Allocate(ctx context.Context, username string, start, count int) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		insert into %s (ticket_number, username)
		select gs, $1 from generate_series($2::int, $3::int) gs`, s.table),
		types.NormalizeUsername(username), start, start+count-1)
	return s.wrap(err)
}

func (s *PostgresStore) InvalidateLowestValid(ctx context.Context, username string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		update %[1]s set is_valid = false
		where username = $1
		and ticket_number = (
			select min(ticket_number) from %[1]s
			where username = $1 and is_valid = true
		)`, s.table), types.NormalizeUsername(username))
	if err != nil {
		return false, s.wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InvalidateTickets(ctx context.Context, username string, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		update %s set is_valid = false
		where username = $1 and ticket_number = any($2)`, s.table),
		types.NormalizeUsername(username), numbers)
	if err != nil {
		return s.wrap(err)
	}
	if int(tag.RowsAffected()) != len(numbers) {
		return fmt.Errorf("invalidated %d of %d tickets for %s", tag.RowsAffected(), len(numbers), username)
	}
	return nil
}

func (s *PostgresStore) InvalidateAll(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		update %s set is_valid = false
		where username = $1 and is_valid = true`, s.table),
		types.NormalizeUsername(username))
	return s.wrap(err)
}

func (s *PostgresStore) UsersWithValidTickets(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		select distinct username from %s where is_valid = true`, s.table))
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	users := make(map[string]struct{})
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, s.wrap(err)
		}
		users[username] = struct{}{}
	}
	return users, s.wrap(rows.Err())
}

func (s *PostgresStore) AllValidTickets(ctx context.Context) (map[string][]int, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		select username, ticket_number from %s
		where is_valid = true
		order by username, ticket_number`, s.table))
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	tickets := make(map[string][]int)
	for rows.Next() {
		var (
			username string
			number   int
		)
		if err := rows.Scan(&username, &number); err != nil {
			return nil, s.wrap(err)
		}
		tickets[username] = append(tickets[username], number)
	}
	return tickets, s.wrap(rows.Err())
}

// wrap maps driver errors onto the store's error taxonomy.
func (s *PostgresStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrDuplicateTicket, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
