package groupmc

import "errors"

// Sentinel errors returned by groupmc operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, groupmc.ErrNotFound) {
//	    // fall back to the lookup daemon
//	}
var (
	// ErrNotFound indicates the principal has no record in the cache.
	//
	// This is also reported when the index or a candidate record is
	// structurally implausible (out-of-bounds offsets, cyclic chains):
	// a damaged cache reads as empty rather than faulting.
	ErrNotFound = errors.New("groupmc: not found")

	// ErrExpired indicates a matching record exists but is past its expiry.
	//
	// Reported distinctly from [ErrNotFound] so callers can trigger a
	// daemon refresh instead of a plain fallback lookup.
	ErrExpired = errors.New("groupmc: expired")

	// ErrAllocation indicates the result buffer could not be grown because
	// the requested capacity exceeds the implementation allocation limit.
	//
	// The buffer is left unmodified.
	ErrAllocation = errors.New("groupmc: allocation limit exceeded")

	// ErrCorrupt indicates the cache file failed attach-time validation.
	//
	// Recovery: the writer must rebuild the cache; readers fall back to
	// the daemon until then.
	ErrCorrupt = errors.New("groupmc: corrupt")

	// ErrIncompatible indicates a format mismatch (magic, version, or
	// header size) at attach time.
	//
	// Recovery: upgrade reader or writer so both speak the same format.
	ErrIncompatible = errors.New("groupmc: incompatible")

	// ErrInvalidated indicates the writer has marked the cache unusable.
	//
	// Recovery: wait for the writer to publish a fresh cache, then
	// attach again.
	ErrInvalidated = errors.New("groupmc: invalidated")

	// ErrBusy indicates an exclusive operation (refresh, writer publish)
	// could not proceed due to concurrent activity.
	//
	// Recovery: retry after a short delay.
	ErrBusy = errors.New("groupmc: busy")

	// ErrClosed indicates the [Cache] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("groupmc: closed")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: empty or oversized principal name, embedded NUL
	// byte, nil buffer, negative limit.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("groupmc: invalid input")
)
