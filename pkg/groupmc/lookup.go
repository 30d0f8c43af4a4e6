package groupmc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LookupGroups resolves the supplementary group IDs cached for a principal
// name and appends them to buf.
//
// limit, when > 0, caps the buffer's total capacity in entries. If a record
// holds more IDs than the limit allows, the copy is silently truncated and
// the call still succeeds (POSIX-style bounded enumeration; truncation is
// not an error). limit = 0 means unbounded.
//
// On success the newly appended count is returned and buf's cursor has
// advanced by that amount; entries present before the call are never
// modified. On any error buf is left unchanged, except [ErrExpired] and
// [ErrNotFound] which also leave it unchanged by construction.
//
// Possible errors: [ErrNotFound], [ErrExpired], [ErrAllocation],
// [ErrClosed], [ErrInvalidInput].
func (c *Cache) LookupGroups(name string, buf *GIDBuffer, limit int) (int, error) {
	if buf == nil {
		return 0, fmt.Errorf("nil buffer: %w", ErrInvalidInput)
	}

	if limit < 0 {
		return 0, fmt.Errorf("limit %d is negative: %w", limit, ErrInvalidInput)
	}

	if len(name) == 0 {
		return 0, fmt.Errorf("empty name: %w", ErrInvalidInput)
	}

	if len(name) > maxNameLenBytes {
		return 0, fmt.Errorf("name length %d exceeds max %d: %w", len(name), maxNameLenBytes, ErrInvalidInput)
	}

	if strings.IndexByte(name, 0) >= 0 {
		return 0, fmt.Errorf("name contains NUL byte: %w", ErrInvalidInput)
	}

	if err := c.acquire(); err != nil {
		return 0, err
	}
	defer c.release()

	// An invalidated arena reads as empty: the writer is rebuilding and
	// callers should fall back to the daemon.
	if c.readState() == stateInvalidated {
		return 0, ErrNotFound
	}

	rec, slot, found := c.resolveChain(name)
	if !found {
		return 0, ErrNotFound
	}

	return c.extractGroups(slot, rec, buf, limit)
}

// resolveChain walks the collision chain for name's hash and returns the
// first record that passes validation.
//
// Traversal stops when a slot offset leaves the arena extent (exhausted
// chain, or the invalid sentinel) or when the hop bound is exceeded. The
// bound forces corrupt cyclic chains to read as a miss instead of hanging;
// every record occupies at least a header, so no acyclic chain can have
// more hops than fit in the arena.
//
// Must be called between acquire and release.
func (c *Cache) resolveChain(name string) (record, uint32, bool) {
	hash := hashKey(name)
	slot := c.tableSlot(uint64(hash) % c.tableCount)

	maxHops := c.dataExtent/recHeaderSize + 1

	for hops := uint64(0); slotWithinBounds(slot, c.dataExtent); hops++ {
		if hops >= maxHops {
			c.log.Debug("chain hop bound exceeded, treating as miss",
				zap.String("name", name), zap.Uint32("hash", hash))

			return record{}, 0, false
		}

		rec, ok := c.recordAt(slot)
		if !ok {
			// Record header sticks out of the arena. Corrupt; the
			// chain cannot be followed further.
			return record{}, 0, false
		}

		if rec.hash != hash {
			// Different key with a colliding table index.
			slot = rec.next
			continue
		}

		if !c.validateRecord(slot, rec, name) {
			slot = rec.next
			continue
		}

		return rec, slot, true
	}

	return record{}, 0, false
}

// validateRecord bounds-checks every offset derived from the candidate
// record and confirms the stored key equals the query name.
//
// All arithmetic is uint64 over uint32-sized fields against an extent
// capped at maxDataExtentBytes, so the end computations cannot overflow.
// Any violation is a benign reject (the caller continues the chain); the
// design prefers false negatives over reads past the mapping.
//
// Must be called between acquire and release.
func (c *Cache) validateRecord(slot uint32, rec record, name string) bool {
	keyEnd := uint64(slot) + uint64(rec.keyOff) + uint64(rec.keyLen)
	payloadEnd := uint64(slot) + uint64(rec.payloadOff) + 4*uint64(rec.payloadCount)

	if keyEnd > c.dataExtent || payloadEnd > c.dataExtent {
		c.log.Debug("candidate record rejected: offsets out of bounds",
			zap.Uint32("slot", slot),
			zap.Uint64("key_end", keyEnd),
			zap.Uint64("payload_end", payloadEnd),
			zap.Uint64("extent", c.dataExtent))

		return false
	}

	if uint64(rec.keyLen) != uint64(len(name)) {
		return false
	}

	keyStart := c.dataOff + uint64(slot) + uint64(rec.keyOff)
	storedKey := c.data[keyStart : keyStart+uint64(rec.keyLen)]

	return bytes.Equal(storedKey, []byte(name))
}

// extractGroups checks expiry and copies the record's payload into buf.
//
// Must be called between acquire and release.
func (c *Cache) extractGroups(slot uint32, rec record, buf *GIDBuffer, limit int) (int, error) {
	if rec.expire < time.Now().Unix() {
		return 0, ErrExpired
	}

	// payloadCount*4 fits the extent (validated), so count fits in int.
	count := int(rec.payloadCount)

	eligible, err := buf.reserve(count, limit)
	if err != nil {
		return 0, err
	}

	// Copy one entry at a time via the encoding/binary decoder: payload
	// bytes sit at arbitrary offsets in a raw byte arena and may not be
	// 4-byte aligned.
	base := c.dataOff + uint64(slot) + uint64(rec.payloadOff)
	for i := 0; i < eligible; i++ {
		gid := binary.LittleEndian.Uint32(c.data[base+4*uint64(i):])
		buf.gids = append(buf.gids, gid)
	}

	return eligible, nil
}
