// Package events provides an in-process publish/subscribe broker for
// ledger activity: ticket allocation and invalidation, eligibility
// strips, and sync cycle lifecycle. Slow subscribers are skipped rather
// than blocking the publisher.
package events
