/*
Package collector runs the periodic sync loop.

Each cycle computes the entries mapping from upstream and hands it to
the ledger's SyncAll. The loop syncs once at startup, then on a fixed
interval; RunOnce is also exposed so the API can trigger an immediate
sync. Cycles are serialized by a mutex and bounded by a per-cycle
timeout, and a failed cycle is logged and counted rather than stopping
the scheduler. Stop cancels the in-flight cycle and waits for the loop
to exit; because every user commits independently, an abandoned cycle
leaves the ledger consistent, just incomplete.
*/
package collector
