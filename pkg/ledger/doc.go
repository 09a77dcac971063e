/*
Package ledger implements the reconciliation core of tally.

Each user's valid ticket count is driven toward a target entry count:
too many valid tickets and the lowest-numbered ones are invalidated
(oldest lose first, as one batched store mutation); too few and a run
of fresh numbers is allocated from the global sequence. Equal counts
are a no-op, which makes a whole sync idempotent.

SyncAll is the whole-population form: users holding valid tickets but
absent from the entries mapping are stripped first, then every user in
the mapping is reconciled independently. A per-user failure is logged
and recorded in the result, never aborting other users.

Concurrency: a per-user mutex makes each reconciliation a critical
section, and a single allocation mutex serializes the max+1 read with
the insert so two users can never be handed the same number.
*/
package ledger
