/*
Package api serves the HTTP query surface over the ticket ledger.

Routes:

	GET  /health               liveness
	GET  /ready                store reachability
	GET  /tickets              all valid tickets by user
	GET  /tickets/{username}   a user's full ticket history
	POST /tickets/sync         run one sync cycle now
	GET  /events               server-sent events stream of ledger events
	GET  /metrics              prometheus metrics

The API only reads the store and triggers the collector; all ledger
mutation goes through reconciliation.
*/
package api
