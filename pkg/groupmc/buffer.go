package groupmc

import "fmt"

// GIDBuffer is a growable result buffer for group IDs.
//
// A lookup appends newly discovered group IDs after the entries already
// present; entries in [0, Len) are never modified. The same buffer may be
// passed to several lookups to accumulate memberships.
//
// A GIDBuffer is not safe for concurrent use.
type GIDBuffer struct {
	// gids holds the accumulated group IDs. len(gids) is the cursor of
	// already-filled entries; cap(gids) is the allocated capacity.
	gids []uint32
}

// NewGIDBuffer returns an empty buffer with the given initial capacity.
func NewGIDBuffer(capacity int) *GIDBuffer {
	if capacity < 0 {
		capacity = 0
	}

	return &GIDBuffer{gids: make([]uint32, 0, capacity)}
}

// Len returns the number of filled entries (the cursor).
func (b *GIDBuffer) Len() int {
	return len(b.gids)
}

// Cap returns the total allocated capacity in entries.
func (b *GIDBuffer) Cap() int {
	return cap(b.gids)
}

// GIDs returns the filled entries.
//
// The slice aliases the buffer's storage; it is valid until the next lookup
// that appends to the buffer.
func (b *GIDBuffer) GIDs() []uint32 {
	return b.gids
}

// Reset truncates the buffer to zero entries, keeping its capacity.
func (b *GIDBuffer) Reset() {
	b.gids = b.gids[:0]
}

// reserve ensures room for n additional entries, honoring the caller's hard
// limit on total capacity.
//
// Returns the number of entries actually eligible to be appended, which is
// less than n when limit caps the total capacity below cursor+n. Entries
// beyond the eligible count are silently dropped by the caller, matching
// POSIX-style bounded enumeration: a limit caps total results without
// signaling truncation.
//
// Growth preserves entries [0, Len) unchanged. If the desired capacity
// exceeds the implementation allocation limit the buffer is left untouched
// and ErrAllocation is returned.
func (b *GIDBuffer) reserve(n, limit int) (int, error) {
	start := len(b.gids)
	eligible := n

	free := cap(b.gids) - start
	if free >= n {
		return eligible, nil
	}

	desired := cap(b.gids) + n
	if limit > 0 && desired > limit {
		desired = limit

		eligible = limit - start
		if eligible < 0 {
			eligible = 0
		}

		if eligible > n {
			eligible = n
		}
	}

	if desired > maxResultEntries {
		return 0, fmt.Errorf("buffer capacity %d exceeds max %d: %w", desired, maxResultEntries, ErrAllocation)
	}

	if desired <= cap(b.gids) {
		return eligible, nil
	}

	grown := make([]uint32, start, desired)
	copy(grown, b.gids)
	b.gids = grown

	return eligible, nil
}
