package groupmc

import (
	"encoding/binary"
	"time"
)

// Entry is one cached membership record, as enumerated by [Cache.Entries].
type Entry struct {
	// Name is the principal the record belongs to.
	Name string

	// GIDs are the supplementary group IDs, in record order.
	GIDs []uint32

	// Expire is the record's expiration time.
	Expire time.Time
}

// Entries walks the whole hash table and returns every valid record.
//
// The walk applies the same per-record bounds checks as a lookup; records
// that fail them are skipped, not reported. When a chain holds several
// records for the same name, only the first (most recently written) is
// returned. Intended for diagnostics and export, not hot paths.
//
// Possible errors: [ErrClosed].
func (c *Cache) Entries() ([]Entry, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if c.readState() == stateInvalidated {
		return nil, nil
	}

	var entries []Entry

	seen := make(map[string]struct{})
	maxHops := c.dataExtent/recHeaderSize + 1

	for i := uint64(0); i < c.tableCount; i++ {
		slot := c.tableSlot(i)

		for hops := uint64(0); slotWithinBounds(slot, c.dataExtent); hops++ {
			if hops >= maxHops {
				break
			}

			rec, ok := c.recordAt(slot)
			if !ok {
				break
			}

			entry, valid := c.entryAt(slot, rec)
			if valid {
				if _, dup := seen[entry.Name]; !dup {
					seen[entry.Name] = struct{}{}
					entries = append(entries, entry)
				}
			}

			slot = rec.next
		}
	}

	return entries, nil
}

// entryAt materializes the record at slot, re-checking its offsets against
// the arena extent. Must be called between acquire and release.
func (c *Cache) entryAt(slot uint32, rec record) (Entry, bool) {
	keyEnd := uint64(slot) + uint64(rec.keyOff) + uint64(rec.keyLen)
	payloadEnd := uint64(slot) + uint64(rec.payloadOff) + 4*uint64(rec.payloadCount)

	if keyEnd > c.dataExtent || payloadEnd > c.dataExtent {
		return Entry{}, false
	}

	if rec.keyLen == 0 || uint64(rec.keyLen) > maxNameLenBytes {
		return Entry{}, false
	}

	keyStart := c.dataOff + uint64(slot) + uint64(rec.keyOff)
	name := string(c.data[keyStart : keyStart+uint64(rec.keyLen)])

	gids := make([]uint32, rec.payloadCount)
	base := c.dataOff + uint64(slot) + uint64(rec.payloadOff)

	for i := range gids {
		gids[i] = binary.LittleEndian.Uint32(c.data[base+4*uint64(i):])
	}

	return Entry{
		Name:   name,
		GIDs:   gids,
		Expire: time.Unix(rec.expire, 0),
	}, true
}
