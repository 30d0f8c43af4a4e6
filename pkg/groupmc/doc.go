// Package groupmc provides the client read path for an mmap-backed
// group-membership cache.
//
// A separate privileged writer process maintains a shared cache file holding
// principal -> supplementary-group-ID records. groupmc attaches to that file
// read-only and resolves memberships without a round trip to a lookup daemon.
// The mapped region is treated as untrusted: the writer may resize, recycle,
// or partially overwrite records at any time, so every offset derived from
// shared state is bounds-checked against the mapping before it is
// dereferenced. Ambiguous or corrupt state degrades to "not found", never to
// a fault.
//
// # Basic Usage
//
//	cache, err := groupmc.Attach(groupmc.Options{
//	    Path: "/var/lib/idcache/initgroups.igc",
//	})
//	if err != nil {
//	    // handle [ErrCorrupt]/[ErrIncompatible] by falling back to the daemon
//	}
//	defer cache.Close()
//
//	buf := groupmc.NewGIDBuffer(16)
//	n, err := cache.LookupGroups("ann", buf, 0)
//	switch {
//	case err == nil:
//	    gids := buf.GIDs() // n newly appended group IDs
//	case errors.Is(err, groupmc.ErrNotFound):
//	    // fall back to the daemon
//	case errors.Is(err, groupmc.ErrExpired):
//	    // entry present but stale; refresh via the daemon
//	}
//
// # Concurrency
//
// Lookups are safe for concurrent use by multiple goroutines and take no
// locks against the writer; safety against concurrent writer mutation comes
// entirely from bounds validation. [Cache.Refresh] and [Cache.Close] are
// exclusive: Refresh returns [ErrBusy] while lookups are in flight.
//
// # Error Handling
//
// Lookup outcomes are sentinel errors checked with [errors.Is]: nil on
// success, [ErrNotFound], [ErrExpired], or [ErrAllocation]. Index or record
// corruption observed during a lookup is deliberately folded into
// [ErrNotFound] (fail safe, not informative). Attach-time validation is
// stricter and distinguishes [ErrCorrupt], [ErrIncompatible], and
// [ErrInvalidated].
package groupmc
