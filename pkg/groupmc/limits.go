package groupmc

// Hardcoded implementation limits.
//
// These limits are intentionally generous; they exist primarily to:
//   - keep arithmetic safely away from overflow boundaries
//   - bound resource usage against hostile or torn header values
//   - keep the invalid-slot sentinel (0xFFFFFFFF) outside any legal extent
//
// Limit violations on caller-provided arguments return ErrInvalidInput;
// violations observed in the shared mapping are treated as corruption.
const (
	// Maximum allowed principal name length (bytes, without terminator).
	maxNameLenBytes = 512

	// Maximum allowed hash table slot count.
	maxTableCount = uint64(1) << 24

	// Maximum allowed data arena extent (bytes).
	//
	// Must stay below 0xFFFFFFFF so the invalid-slot sentinel can never
	// pass the within-extent check.
	maxDataExtentBytes = uint64(1) << 30

	// Maximum total capacity (entries) of a GIDBuffer.
	//
	// Growth beyond this returns ErrAllocation.
	maxResultEntries = 1 << 20

	// Maximum group IDs per record accepted by the Writer.
	maxGroupsPerRecord = 1 << 16
)
