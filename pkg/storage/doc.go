/*
Package storage persists the tally ticket ledger.

The Store interface is the only thing the rest of the daemon sees. Two
backends implement it:

  - BoltStore: embedded BoltDB (bbolt), zero external dependencies.
    Keys are 8-byte big-endian ticket numbers so cursor order is ticket
    order; values are JSON rows. Every mutation runs inside a single
    bolt Update transaction, which is the serialization boundary the
    numbering sequence relies on.

  - PostgresStore: pgx/v5 connection pool, one row per ticket with
    ticket_number as primary key. The primary key enforces the
    never-reused numbering; a 23505 violation surfaces as
    ErrDuplicateTicket.

The ledger rotates monthly: the active period maps to a bucket or table
named tickets_YYYYMM, resolved once at store construction. Numbering
restarts with a fresh period; the core never inspects the name.

Tickets are never deleted. Reducing a user's entitlement flips validity
flags and leaves the rows behind for audit.
*/
package storage
