// Package entries computes the target entries mapping from the
// upstream stat service. Followers are worth 1 entry, subscribers 5,
// and gift subs 5 per gifted sub credited to the gifter. Each source is
// fetched independently; a failure degrades that source to an empty
// contribution rather than aborting the cycle.
package entries
