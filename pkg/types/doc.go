/*
Package types defines the shared domain types for the tally ticket
ledger: the Ticket row, the Entries mapping consumed by reconciliation,
and the daemon configuration.

Tickets are append-only: a number is allocated exactly once from a
single global sequence, and the (number, username) pairing is permanent.
Validity is the only mutable attribute. The Entries mapping is derived
state supplied by the upstream stat service each cycle and is never
persisted here.

Configuration is plain YAML validated with go-playground/validator
struct tags; see DefaultConfig for the development defaults.
*/
package types
