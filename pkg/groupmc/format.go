package groupmc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// IGC1 file format constants.
const (
	// Magic bytes at the start of every cache file.
	arenaMagic = "IGC1"

	// File format version.
	igc1Version = 1

	// Fixed header size in bytes.
	igc1HeaderSize = 128

	// Hash algorithm identifier (FNV-1a 32-bit over name + NUL).
	igc1HashAlgFNV1a32 = 1
)

// FNV-1a 32-bit hash constants.
const (
	fnv1aOffsetBasis32 uint32 = 2166136261
	fnv1aPrime32       uint32 = 16777619
)

// Safe integer conversion constants.
const (
	maxInt   = int(^uint(0) >> 1)
	maxInt64 = int64(^uint64(0) >> 1)
)

// invalidSlot is the hash table / chain sentinel meaning "no record".
//
// It is larger than maxDataExtentBytes, so the ordinary within-extent check
// rejects it; no special casing is needed during traversal.
const invalidSlot = ^uint32(0)

// Header field offsets (bytes from file start).
const (
	offMagic             = 0x00 // [4]byte
	offVersion           = 0x04 // uint32
	offHeaderSize        = 0x08 // uint32
	offHashAlg           = 0x0C // uint32
	offState             = 0x10 // uint32
	offTableOffset       = 0x18 // uint64
	offTableCount        = 0x20 // uint64
	offDataOffset        = 0x28 // uint64
	offDataExtent        = 0x30 // uint64
	offWriterID          = 0x38 // [16]byte (UUID, per writer generation)
	offReservedTailStart = 0x48 // reserved bytes through 0x7F (56 bytes)
)

// Cache state values (stored in the state field).
const (
	// stateNormal indicates the cache is operational.
	stateNormal uint32 = 0
	// stateInvalidated indicates the writer has marked the cache unusable.
	stateInvalidated uint32 = 1
)

// Record header field offsets (bytes from record start) and size.
//
// A record is the 32-byte header followed by its payload (packed uint32
// group IDs) and the NUL-terminated principal name. keyOff/payloadOff are
// relative to the record start; next is relative to the data arena start.
const (
	recOffHash         = 0  // uint32
	recOffNext         = 4  // uint32 (next record with same hash, or invalidSlot)
	recOffExpire       = 8  // int64 (unix seconds)
	recOffKeyOff       = 16 // uint32
	recOffKeyLen       = 20 // uint32 (name bytes, without terminator)
	recOffPayloadOff   = 24 // uint32
	recOffPayloadCount = 28 // uint32

	recHeaderSize = 32
)

// arenaHeader represents the 128-byte IGC1 file header.
type arenaHeader struct {
	Magic       [4]byte
	Version     uint32
	HeaderSize  uint32
	HashAlg     uint32
	State       uint32
	TableOffset uint64
	TableCount  uint64
	DataOffset  uint64
	DataExtent  uint64
	WriterID    uuid.UUID
	// Reserved bytes from 0x48 to 0x7F MUST be zero.
}

// encodeArenaHeader serializes the header to a 128-byte slice.
func encodeArenaHeader(header *arenaHeader) []byte {
	buf := make([]byte, igc1HeaderSize)

	copy(buf[offMagic:], header.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], header.Version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], header.HeaderSize)
	binary.LittleEndian.PutUint32(buf[offHashAlg:], header.HashAlg)
	binary.LittleEndian.PutUint32(buf[offState:], header.State)

	binary.LittleEndian.PutUint64(buf[offTableOffset:], header.TableOffset)
	binary.LittleEndian.PutUint64(buf[offTableCount:], header.TableCount)
	binary.LittleEndian.PutUint64(buf[offDataOffset:], header.DataOffset)
	binary.LittleEndian.PutUint64(buf[offDataExtent:], header.DataExtent)

	copy(buf[offWriterID:offWriterID+16], header.WriterID[:])

	return buf
}

// decodeArenaHeader deserializes a 128-byte header buffer.
func decodeArenaHeader(buf []byte) arenaHeader {
	var header arenaHeader

	copy(header.Magic[:], buf[offMagic:offMagic+4])
	header.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	header.HeaderSize = binary.LittleEndian.Uint32(buf[offHeaderSize:])
	header.HashAlg = binary.LittleEndian.Uint32(buf[offHashAlg:])
	header.State = binary.LittleEndian.Uint32(buf[offState:])
	header.TableOffset = binary.LittleEndian.Uint64(buf[offTableOffset:])
	header.TableCount = binary.LittleEndian.Uint64(buf[offTableCount:])
	header.DataOffset = binary.LittleEndian.Uint64(buf[offDataOffset:])
	header.DataExtent = binary.LittleEndian.Uint64(buf[offDataExtent:])
	copy(header.WriterID[:], buf[offWriterID:offWriterID+16])

	return header
}

// hasReservedBytesSet checks if any reserved tail bytes (0x48-0x7F) are non-zero.
func hasReservedBytesSet(buf []byte) bool {
	for i := offReservedTailStart; i < igc1HeaderSize; i++ {
		if buf[i] != 0 {
			return true
		}
	}

	return false
}

// record holds the deserialized header fields of a cache record.
//
// Records are always decoded into this copy before any field is used, so a
// concurrent writer mutation cannot change a field between its validation
// and its use.
type record struct {
	hash         uint32
	next         uint32
	expire       int64
	keyOff       uint32
	keyLen       uint32
	payloadOff   uint32
	payloadCount uint32
}

// decodeRecord deserializes a 32-byte record header.
func decodeRecord(buf []byte) record {
	return record{
		hash:         binary.LittleEndian.Uint32(buf[recOffHash:]),
		next:         binary.LittleEndian.Uint32(buf[recOffNext:]),
		expire:       getInt64LE(buf[recOffExpire : recOffExpire+8]),
		keyOff:       binary.LittleEndian.Uint32(buf[recOffKeyOff:]),
		keyLen:       binary.LittleEndian.Uint32(buf[recOffKeyLen:]),
		payloadOff:   binary.LittleEndian.Uint32(buf[recOffPayloadOff:]),
		payloadCount: binary.LittleEndian.Uint32(buf[recOffPayloadCount:]),
	}
}

// encodeRecord serializes a record header into a 32-byte slice.
func encodeRecord(rec record) []byte {
	buf := make([]byte, recHeaderSize)

	binary.LittleEndian.PutUint32(buf[recOffHash:], rec.hash)
	binary.LittleEndian.PutUint32(buf[recOffNext:], rec.next)
	putInt64LE(buf[recOffExpire:recOffExpire+8], rec.expire)
	binary.LittleEndian.PutUint32(buf[recOffKeyOff:], rec.keyOff)
	binary.LittleEndian.PutUint32(buf[recOffKeyLen:], rec.keyLen)
	binary.LittleEndian.PutUint32(buf[recOffPayloadOff:], rec.payloadOff)
	binary.LittleEndian.PutUint32(buf[recOffPayloadCount:], rec.payloadCount)

	return buf
}

// fnv1a32 computes the FNV-1a 32-bit hash over the given bytes.
func fnv1a32(data []byte) uint32 {
	hash := fnv1aOffsetBasis32
	for _, b := range data {
		hash ^= uint32(b)
		hash *= fnv1aPrime32
	}

	return hash
}

// hashKey computes the record hash for a principal name.
//
// The hash input includes the NUL terminator following the name, so two
// names where one is a prefix of the other never produce the same input.
func hashKey(name string) uint32 {
	hash := fnv1aOffsetBasis32
	for i := 0; i < len(name); i++ {
		hash ^= uint32(name[i])
		hash *= fnv1aPrime32
	}

	// Terminator byte participates in the hash.
	hash ^= 0
	hash *= fnv1aPrime32

	return hash
}

// putInt64LE writes an int64 to buf in little-endian byte order.
func putInt64LE(buf []byte, value int64) {
	// Bounds check hint: if buf[7] is valid, buf[0..6] are too.
	_ = buf[7]

	buf[0] = byte(value)
	buf[1] = byte(value >> 8)
	buf[2] = byte(value >> 16)
	buf[3] = byte(value >> 24)
	buf[4] = byte(value >> 32)
	buf[5] = byte(value >> 40)
	buf[6] = byte(value >> 48)
	buf[7] = byte(value >> 56)
}

// getInt64LE reads an int64 from buf in little-endian byte order.
func getInt64LE(buf []byte) int64 {
	// Bounds check hint: if buf[7] is valid, buf[0..6] are too.
	_ = buf[7]

	return int64(buf[0]) |
		int64(buf[1])<<8 |
		int64(buf[2])<<16 |
		int64(buf[3])<<24 |
		int64(buf[4])<<32 |
		int64(buf[5])<<40 |
		int64(buf[6])<<48 |
		int64(buf[7])<<56
}

// uint64ToInt64Checked converts uint64 to int64.
// Returns ErrInvalidInput if the value exceeds maxInt64.
func uint64ToInt64Checked(v uint64) (int64, error) {
	if v > uint64(maxInt64) {
		return 0, fmt.Errorf("uint64 %d exceeds int64 max: %w", v, ErrInvalidInput)
	}

	return int64(v), nil
}

// uint64ToIntChecked converts uint64 to int.
// Returns ErrInvalidInput if the value exceeds maxInt.
func uint64ToIntChecked(v uint64) (int, error) {
	if v > uint64(maxInt) {
		return 0, fmt.Errorf("uint64 %d exceeds int max: %w", v, ErrInvalidInput)
	}

	return int(v), nil
}

// align8U64 rounds x up to the next multiple of 8.
func align8U64(x uint64) uint64 {
	return (x + 7) &^ 7
}

// slotWithinBounds reports whether a slot offset lies inside the data arena.
//
// The invalid sentinel (0xFFFFFFFF) always fails this check because the
// extent is capped at maxDataExtentBytes.
func slotWithinBounds(slot uint32, extent uint64) bool {
	return uint64(slot) < extent
}
