package groupmc

import (
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// Options configure attaching to a cache file.
type Options struct {
	// Path is the filesystem path to the cache file published by the
	// writer.
	//
	// Required.
	Path string

	// Logger receives debug events (attach, refresh, rejected
	// candidates). Nil disables logging.
	Logger *zap.Logger
}

// Attach maps an existing cache file read-only and returns a handle.
//
// The file must have been published by a compatible writer. Attach never
// creates or modifies the file.
//
// The returned Cache must be closed with [Cache.Close] when no longer
// needed.
//
// Possible errors:
//   - [ErrInvalidInput]: empty path
//   - [ErrIncompatible]: magic, version, header size, or hash algorithm mismatch
//   - [ErrCorrupt]: header geometry does not fit the file
//   - [ErrInvalidated]: the writer has marked the cache unusable
//   - syscall errors: file I/O failures (open, stat, read, mmap)
func Attach(opts Options) (*Cache, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	m, err := mapArenaFile(opts.Path)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		fd:         m.fd,
		data:       m.data,
		fileSize:   m.fileSize,
		tableOff:   m.header.TableOffset,
		tableCount: m.header.TableCount,
		dataOff:    m.header.DataOffset,
		dataExtent: m.header.DataExtent,
		writerID:   m.header.WriterID,
		identity:   m.identity,
		log:        log,
		path:       opts.Path,
	}

	log.Debug("attached cache",
		zap.String("path", opts.Path),
		zap.Uint64("table_count", c.tableCount),
		zap.Uint64("data_extent", c.dataExtent),
		zap.String("writer_id", c.writerID.String()))

	return c, nil
}

// Close releases the mapping and file descriptor.
//
// Close waits for in-flight lookups to finish. After Close, all other
// methods return [ErrClosed]. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	c.isClosed = true

	if c.data != nil {
		_ = syscall.Munmap(c.data)
		c.data = nil
	}

	if c.fd >= 0 {
		_ = syscall.Close(c.fd)
		c.fd = -1
	}

	return nil
}

// Refresh re-checks the cache path and remaps if the writer has published a
// replacement file (different inode or size).
//
// Remapping never happens under an active lookup: if lookups are in flight,
// Refresh returns [ErrBusy] and the caller retries later. A no-op refresh
// (file unchanged) returns nil.
//
// Possible errors: [ErrBusy], [ErrClosed], plus everything [Attach] can
// return for the replacement file.
func (c *Cache) Refresh() error {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	if c.isClosed {
		return ErrClosed
	}

	var stat syscall.Stat_t

	statErr := syscall.Stat(c.path, &stat)
	if statErr != nil {
		return fmt.Errorf("stat cache file: %w", statErr)
	}

	identity := fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino}
	if identity == c.identity && stat.Size == c.fileSize {
		return nil
	}

	m, err := mapArenaFile(c.path)
	if err != nil {
		return err
	}

	oldData := c.data
	oldFd := c.fd

	c.fd = m.fd
	c.data = m.data
	c.fileSize = m.fileSize
	c.tableOff = m.header.TableOffset
	c.tableCount = m.header.TableCount
	c.dataOff = m.header.DataOffset
	c.dataExtent = m.header.DataExtent
	c.writerID = m.header.WriterID
	c.identity = m.identity

	if oldData != nil {
		_ = syscall.Munmap(oldData)
	}

	if oldFd >= 0 {
		_ = syscall.Close(oldFd)
	}

	c.log.Debug("remapped cache",
		zap.String("path", c.path),
		zap.String("writer_id", c.writerID.String()))

	return nil
}

// mapping holds a validated read-only view of a cache file.
type mapping struct {
	fd       int
	data     []byte
	fileSize int64
	header   arenaHeader
	identity fileIdentity
}

// mapArenaFile opens, validates, and maps a cache file read-only.
func mapArenaFile(path string) (mapping, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY, 0)
	if err != nil {
		return mapping{}, fmt.Errorf("open cache file: %w", err)
	}

	var stat syscall.Stat_t

	statErr := syscall.Fstat(fd, &stat)
	if statErr != nil {
		_ = syscall.Close(fd)

		return mapping{}, fmt.Errorf("stat cache file: %w", statErr)
	}

	size := stat.Size
	if size < igc1HeaderSize {
		_ = syscall.Close(fd)

		return mapping{}, fmt.Errorf("file size %d is less than header size %d: %w", size, igc1HeaderSize, ErrCorrupt)
	}

	headerBuf := make([]byte, igc1HeaderSize)

	n, readErr := syscall.Pread(fd, headerBuf, 0)
	if readErr != nil || n != igc1HeaderSize {
		_ = syscall.Close(fd)

		return mapping{}, ErrCorrupt
	}

	header := decodeArenaHeader(headerBuf)

	validateErr := validateArenaHeader(&header, headerBuf, uint64(size))
	if validateErr != nil {
		_ = syscall.Close(fd)

		return mapping{}, validateErr
	}

	mmapLen, lenErr := uint64ToIntChecked(uint64(size))
	if lenErr != nil {
		_ = syscall.Close(fd)

		return mapping{}, fmt.Errorf("file size %d: %w", size, lenErr)
	}

	data, mmapErr := syscall.Mmap(fd, 0, mmapLen, syscall.PROT_READ, syscall.MAP_SHARED)
	if mmapErr != nil {
		_ = syscall.Close(fd)

		return mapping{}, fmt.Errorf("mmap cache file: %w", mmapErr)
	}

	return mapping{
		fd:       fd,
		data:     data,
		fileSize: size,
		header:   header,
		identity: fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino},
	}, nil
}

// validateArenaHeader checks format identity and that the declared geometry
// fits inside the file. Geometry validated here is trusted by the lookup
// path for the lifetime of the mapping; per-record offsets are not, and are
// re-checked on every access.
func validateArenaHeader(header *arenaHeader, headerBuf []byte, fileSize uint64) error {
	if string(header.Magic[:]) != arenaMagic {
		return fmt.Errorf("invalid magic %q: %w", header.Magic[:], ErrIncompatible)
	}

	if header.Version != igc1Version {
		return fmt.Errorf("version %d, want %d: %w", header.Version, igc1Version, ErrIncompatible)
	}

	if header.HeaderSize != igc1HeaderSize {
		return fmt.Errorf("header size %d, want %d: %w", header.HeaderSize, igc1HeaderSize, ErrIncompatible)
	}

	if header.HashAlg != igc1HashAlgFNV1a32 {
		return fmt.Errorf("hash algorithm %d not supported: %w", header.HashAlg, ErrIncompatible)
	}

	if hasReservedBytesSet(headerBuf) {
		return fmt.Errorf("reserved header bytes set: %w", ErrCorrupt)
	}

	switch header.State {
	case stateNormal:
		// ok
	case stateInvalidated:
		return ErrInvalidated
	default:
		return fmt.Errorf("unknown state %d: %w", header.State, ErrCorrupt)
	}

	if header.TableCount == 0 || header.TableCount > maxTableCount {
		return fmt.Errorf("table count %d out of range: %w", header.TableCount, ErrCorrupt)
	}

	if header.TableOffset < igc1HeaderSize {
		return fmt.Errorf("table offset %d overlaps header: %w", header.TableOffset, ErrCorrupt)
	}

	// Bound the raw offsets before any addition so the sums below cannot
	// overflow: fileSize fits int64 and the other operands are capped.
	if header.TableOffset > fileSize || header.DataOffset > fileSize {
		return fmt.Errorf("section offsets beyond file size %d: %w", fileSize, ErrCorrupt)
	}

	tableEnd := header.TableOffset + header.TableCount*4
	if tableEnd > header.DataOffset {
		return fmt.Errorf("table end %d overlaps data at %d: %w", tableEnd, header.DataOffset, ErrCorrupt)
	}

	if header.DataExtent > maxDataExtentBytes {
		return fmt.Errorf("data extent %d exceeds max %d: %w", header.DataExtent, maxDataExtentBytes, ErrCorrupt)
	}

	if header.DataOffset+header.DataExtent > fileSize {
		return fmt.Errorf("data section end %d beyond file size %d: %w",
			header.DataOffset+header.DataExtent, fileSize, ErrCorrupt)
	}

	return nil
}
