package types

import (
	"sort"
	"strings"
	"time"
)

// Ticket is one permanently numbered giveaway chance held by a user.
// Numbers are globally unique and monotonically increasing across the
// whole store; a ticket is never deleted or renumbered, only flipped
// between valid and invalid.
type Ticket struct {
	Number    int       `json:"number"`
	Username  string    `json:"username"`
	IsValid   bool      `json:"is_valid"`
	CreatedAt time.Time `json:"created_at"`
}

// Entries maps a lowercased username to the number of giveaway entries
// that user is currently owed. It is recomputed from upstream stats on
// every polling cycle and has no persistence of its own.
type Entries map[string]int

// Usernames returns the set of users present in the mapping, sorted.
func (e Entries) Usernames() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeUsername lowercases a username the way every store and
// upstream lookup expects it.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// SyncResult summarizes one reconciliation cycle.
type SyncResult struct {
	Users       int           `json:"users"`
	Allocated   int           `json:"allocated"`
	Invalidated int           `json:"invalidated"`
	Stripped    int           `json:"stripped"`
	FailedUsers []string      `json:"failed_users,omitempty"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
}
