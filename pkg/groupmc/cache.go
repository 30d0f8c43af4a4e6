package groupmc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache is a read-only handle to an attached cache file.
//
// All lookup methods are safe for concurrent use by multiple goroutines.
// A Cache must be obtained via [Attach]; the zero value is not usable.
type Cache struct {
	_ [0]func() // prevent external construction

	// mu serializes lookups against Refresh/Close. Lookups hold the read
	// side for their (short, non-blocking) duration; Refresh and Close
	// need the write side so they never unmap memory under a reader.
	mu sync.RWMutex

	fd       int    // file descriptor
	data     []byte // mmap'd file data
	fileSize int64  // total file size

	// Cached immutable geometry from the header, validated at attach.
	tableOff   uint64
	tableCount uint64
	dataOff    uint64
	dataExtent uint64
	writerID   uuid.UUID

	// identity pins the attached file for Refresh change detection.
	identity fileIdentity

	// readers counts in-flight lookups. Balanced on every exit path.
	readers atomic.Int64

	log  *zap.Logger
	path string

	// State
	isClosed bool
}

// fileIdentity uniquely identifies a file by device and inode.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// Info describes an attached cache.
type Info struct {
	Version     uint32
	TableCount  uint64
	DataExtent  uint64
	WriterID    uuid.UUID
	Invalidated bool
}

// Info returns a snapshot of the attached cache's geometry and state.
//
// Possible errors: [ErrClosed].
func (c *Cache) Info() (Info, error) {
	if err := c.acquire(); err != nil {
		return Info{}, err
	}
	defer c.release()

	return Info{
		Version:     binary.LittleEndian.Uint32(c.data[offVersion:]),
		TableCount:  c.tableCount,
		DataExtent:  c.dataExtent,
		WriterID:    c.writerID,
		Invalidated: c.readState() == stateInvalidated,
	}, nil
}

// Readers returns the number of lookups currently in flight.
//
// Exposed for diagnostics and tests; the attach layer uses it to decide
// when remapping is safe.
func (c *Cache) Readers() int64 {
	return c.readers.Load()
}

// WriterID returns the instance ID of the writer generation that produced
// the attached file.
func (c *Cache) WriterID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.writerID
}

// acquire registers a reader against the mapping.
//
// Every successful acquire must be paired with exactly one release; lookup
// entry points defer the release so the pairing holds on all exit paths.
func (c *Cache) acquire() error {
	c.mu.RLock()

	if c.isClosed {
		c.mu.RUnlock()

		return ErrClosed
	}

	c.readers.Add(1)

	return nil
}

// release unregisters a reader. Counterpart of acquire.
func (c *Cache) release() {
	c.readers.Add(-1)
	c.mu.RUnlock()
}

// readState reads the header state field from the mapping.
// Must be called between acquire and release.
func (c *Cache) readState() uint32 {
	return binary.LittleEndian.Uint32(c.data[offState:])
}

// tableSlot reads hash table entry i.
//
// i must be < tableCount; the table range was validated against the mapping
// at attach time. Must be called between acquire and release.
func (c *Cache) tableSlot(i uint64) uint32 {
	return binary.LittleEndian.Uint32(c.data[c.tableOff+i*4:])
}

// recordAt decodes the record header at the given data-arena offset.
//
// Returns ok=false if the header would extend past the arena extent. The
// returned record is a copy: later writer mutation of the arena cannot
// change a field between validation and use.
func (c *Cache) recordAt(slot uint32) (record, bool) {
	end := uint64(slot) + recHeaderSize
	if end > c.dataExtent {
		return record{}, false
	}

	return decodeRecord(c.data[c.dataOff+uint64(slot) : c.dataOff+end]), true
}
