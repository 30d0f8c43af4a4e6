package groupmc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// WriterOptions configure a cache [Writer].
type WriterOptions struct {
	// TableCount is the number of hash table slots. 0 means the default
	// (1024). Must not exceed the implementation limit.
	TableCount uint64

	// WriterID identifies this writer generation. Zero means a random ID
	// is generated. Readers expose it so operators can correlate a mapped
	// file with the daemon run that produced it.
	WriterID uuid.UUID
}

// Writer builds a cache file in memory and publishes it atomically.
//
// The arena is append-only: Add never moves or rewrites existing records,
// it head-inserts into the collision chain. This mirrors the on-disk
// update discipline readers rely on.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	_ [0]func() // prevent external construction

	tableCount uint64
	writerID   uuid.UUID

	table []uint32
	data  []byte

	names map[string]struct{}
}

// defaultTableCount is used when WriterOptions.TableCount is zero.
const defaultTableCount = 1024

// NewWriter returns an empty cache builder.
//
// Possible errors: [ErrInvalidInput] (table count out of range).
func NewWriter(opts WriterOptions) (*Writer, error) {
	tableCount := opts.TableCount
	if tableCount == 0 {
		tableCount = defaultTableCount
	}

	if tableCount > maxTableCount {
		return nil, fmt.Errorf("table count %d exceeds max %d: %w", tableCount, maxTableCount, ErrInvalidInput)
	}

	writerID := opts.WriterID
	if writerID == uuid.Nil {
		writerID = uuid.New()
	}

	table := make([]uint32, tableCount)
	for i := range table {
		table[i] = invalidSlot
	}

	return &Writer{
		tableCount: tableCount,
		writerID:   writerID,
		table:      table,
		names:      make(map[string]struct{}),
	}, nil
}

// WriterID returns the generation ID records will be published under.
func (w *Writer) WriterID() uuid.UUID {
	return w.writerID
}

// Len returns the number of records added so far.
func (w *Writer) Len() int {
	return len(w.names)
}

// Add appends a membership record for name expiring at expire.
//
// Each name may be added once per Writer; group IDs are stored in the order
// given.
//
// Possible errors: [ErrInvalidInput] (bad name, duplicate name, too many
// groups), [ErrAllocation] (arena full).
func (w *Writer) Add(name string, gids []uint32, expire time.Time) error {
	if len(name) == 0 {
		return fmt.Errorf("empty name: %w", ErrInvalidInput)
	}

	if len(name) > maxNameLenBytes {
		return fmt.Errorf("name length %d exceeds max %d: %w", len(name), maxNameLenBytes, ErrInvalidInput)
	}

	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("name contains NUL byte: %w", ErrInvalidInput)
	}

	if len(gids) > maxGroupsPerRecord {
		return fmt.Errorf("%d group IDs exceeds max %d: %w", len(gids), maxGroupsPerRecord, ErrInvalidInput)
	}

	if _, dup := w.names[name]; dup {
		return fmt.Errorf("duplicate name %q: %w", name, ErrInvalidInput)
	}

	// Record layout: 32-byte header, packed group IDs, name, terminator.
	payloadLen := 4 * len(gids)
	recLen := recHeaderSize + payloadLen + len(name) + 1

	off := align8U64(uint64(len(w.data)))
	if off+uint64(recLen) > maxDataExtentBytes {
		return fmt.Errorf("data arena would exceed %d bytes: %w", maxDataExtentBytes, ErrAllocation)
	}

	hash := hashKey(name)
	idx := uint64(hash) % w.tableCount

	rec := record{
		hash:         hash,
		next:         w.table[idx],
		expire:       expire.Unix(),
		keyOff:       uint32(recHeaderSize + payloadLen),
		keyLen:       uint32(len(name)),
		payloadOff:   recHeaderSize,
		payloadCount: uint32(len(gids)),
	}

	// Alignment padding, then the record body.
	for uint64(len(w.data)) < off {
		w.data = append(w.data, 0)
	}

	w.data = append(w.data, encodeRecord(rec)...)

	for _, gid := range gids {
		var gidBuf [4]byte

		binary.LittleEndian.PutUint32(gidBuf[:], gid)
		w.data = append(w.data, gidBuf[:]...)
	}

	w.data = append(w.data, name...)
	w.data = append(w.data, 0)

	// Head-insert: the table slot now points at the new record, whose next
	// pointer preserves the old chain.
	w.table[idx] = uint32(off)
	w.names[name] = struct{}{}

	return nil
}

// WriteTo serializes the cache and atomically replaces the file at path.
//
// A flock on path+".lock" excludes concurrent writers; a held lock returns
// [ErrBusy]. Readers never take the lock, they see either the old or the
// new file.
//
// Possible errors: [ErrBusy], file I/O errors.
func (w *Writer) WriteTo(path string) error {
	unlock, err := lockWriterFile(path)
	if err != nil {
		return err
	}
	defer unlock()

	header := arenaHeader{
		Magic:       [4]byte{arenaMagic[0], arenaMagic[1], arenaMagic[2], arenaMagic[3]},
		Version:     igc1Version,
		HeaderSize:  igc1HeaderSize,
		HashAlg:     igc1HashAlgFNV1a32,
		State:       stateNormal,
		TableOffset: igc1HeaderSize,
		TableCount:  w.tableCount,
		DataOffset:  align8U64(igc1HeaderSize + w.tableCount*4),
		DataExtent:  uint64(len(w.data)),
		WriterID:    w.writerID,
	}

	var out bytes.Buffer

	out.Write(encodeArenaHeader(&header))

	for _, slot := range w.table {
		var slotBuf [4]byte

		binary.LittleEndian.PutUint32(slotBuf[:], slot)
		out.Write(slotBuf[:])
	}

	for uint64(out.Len()) < header.DataOffset {
		out.WriteByte(0)
	}

	out.Write(w.data)

	writeErr := atomic.WriteFile(path, &out)
	if writeErr != nil {
		return fmt.Errorf("publish cache file: %w", writeErr)
	}

	return nil
}

// MarkInvalidated flips the state field of the cache file at path so that
// attached readers start reporting misses.
//
// The flip is done through a shared read-write mapping and synced, so
// processes that already have the file mapped observe it without
// re-attaching.
//
// Possible errors: [ErrBusy], [ErrIncompatible], [ErrCorrupt], file I/O
// errors.
func MarkInvalidated(path string) error {
	unlock, err := lockWriterFile(path)
	if err != nil {
		return err
	}
	defer unlock()

	fd, openErr := syscall.Open(path, syscall.O_RDWR, 0)
	if openErr != nil {
		return fmt.Errorf("open cache file: %w", openErr)
	}
	defer func() { _ = syscall.Close(fd) }()

	var stat syscall.Stat_t

	statErr := syscall.Fstat(fd, &stat)
	if statErr != nil {
		return fmt.Errorf("stat cache file: %w", statErr)
	}

	if stat.Size < igc1HeaderSize {
		return fmt.Errorf("file size %d is less than header size %d: %w", stat.Size, igc1HeaderSize, ErrCorrupt)
	}

	data, mmapErr := syscall.Mmap(fd, 0, igc1HeaderSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if mmapErr != nil {
		return fmt.Errorf("mmap cache file: %w", mmapErr)
	}
	defer func() { _ = syscall.Munmap(data) }()

	if string(data[offMagic:offMagic+4]) != arenaMagic {
		return fmt.Errorf("invalid magic: %w", ErrIncompatible)
	}

	binary.LittleEndian.PutUint32(data[offState:], stateInvalidated)

	syncErr := unix.Msync(data, unix.MS_SYNC)
	if syncErr != nil {
		return fmt.Errorf("msync cache file: %w", syncErr)
	}

	return nil
}

// lockWriterFile takes an exclusive non-blocking flock on path+".lock" and
// returns the release func.
func lockWriterFile(path string) (func(), error) {
	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open writer lock: %w", err)
	}

	flockErr := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if flockErr != nil {
		_ = lockFile.Close()

		if flockErr == syscall.EWOULDBLOCK {
			return nil, ErrBusy
		}

		return nil, fmt.Errorf("flock writer lock: %w", flockErr)
	}

	return func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
	}, nil
}
