// Lookup behavior tests.
//
// Oracle for outcomes: a lookup either succeeds with the record's group IDs
// appended in order, or fails with a sentinel error leaving the buffer
// untouched. Fixtures are built with the package's own Writer and attached
// read-only.

package groupmc_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/croftbryce/idcache/pkg/groupmc"
)

// writeCacheFile builds a cache file holding entries, all expiring one hour
// from now, and returns its path.
func writeCacheFile(t *testing.T, tableCount uint64, entries map[string][]uint32) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "initgroups.igc")

	w, err := groupmc.NewWriter(groupmc.WriterOptions{TableCount: tableCount})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	expire := time.Now().Add(time.Hour)
	for name, gids := range entries {
		addErr := w.Add(name, gids, expire)
		if addErr != nil {
			t.Fatalf("Add(%q) failed: %v", name, addErr)
		}
	}

	writeErr := w.WriteTo(path)
	if writeErr != nil {
		t.Fatalf("WriteTo failed: %v", writeErr)
	}

	return path
}

// attachCache attaches to path and registers cleanup.
func attachCache(t *testing.T, path string) *groupmc.Cache {
	t.Helper()

	c, err := groupmc.Attach(groupmc.Options{Path: path})
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func Test_LookupGroups_Returns_GIDs_In_Record_Order(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{
		"ann": {100, 4, 27, 4096},
		"bob": {7},
	})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(8)

	n, err := c.LookupGroups("ann", buf, 0)
	if err != nil {
		t.Fatalf("LookupGroups failed: %v", err)
	}

	if n != 4 {
		t.Fatalf("appended count = %d, want 4", n)
	}

	want := []uint32{100, 4, 27, 4096}
	if diff := cmp.Diff(want, buf.GIDs()); diff != "" {
		t.Fatalf("GIDs mismatch (-want +got):\n%s", diff)
	}
}

func Test_LookupGroups_Returns_ErrNotFound_And_Leaves_Buffer_Unchanged(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{"ann": {100, 4}})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(4)

	if _, err := c.LookupGroups("ann", buf, 0); err != nil {
		t.Fatalf("priming lookup failed: %v", err)
	}

	n, err := c.LookupGroups("nobody", buf, 0)
	if !errors.Is(err, groupmc.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if n != 0 {
		t.Fatalf("appended count = %d, want 0", n)
	}

	want := []uint32{100, 4}
	if diff := cmp.Diff(want, buf.GIDs()); diff != "" {
		t.Fatalf("buffer changed on miss (-want +got):\n%s", diff)
	}
}

func Test_LookupGroups_Returns_ErrExpired_And_Leaves_Buffer_Unchanged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "initgroups.igc")

	w, err := groupmc.NewWriter(groupmc.WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	addErr := w.Add("ann", []uint32{100, 4}, time.Now().Add(-time.Minute))
	if addErr != nil {
		t.Fatalf("Add failed: %v", addErr)
	}

	if writeErr := w.WriteTo(path); writeErr != nil {
		t.Fatalf("WriteTo failed: %v", writeErr)
	}

	c := attachCache(t, path)
	buf := groupmc.NewGIDBuffer(4)

	n, lookupErr := c.LookupGroups("ann", buf, 0)
	if !errors.Is(lookupErr, groupmc.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", lookupErr)
	}

	if n != 0 || buf.Len() != 0 {
		t.Fatalf("expired lookup touched buffer: n=%d len=%d", n, buf.Len())
	}
}

func Test_LookupGroups_Grows_Buffer_Preserving_Existing_Entries(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{
		"ann": {1, 2},
		"bob": {10, 11, 12, 13, 14},
	})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(2)

	if _, err := c.LookupGroups("ann", buf, 0); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}

	n, err := c.LookupGroups("bob", buf, 0)
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if n != 5 {
		t.Fatalf("appended count = %d, want 5", n)
	}

	want := []uint32{1, 2, 10, 11, 12, 13, 14}
	if diff := cmp.Diff(want, buf.GIDs()); diff != "" {
		t.Fatalf("accumulated GIDs mismatch (-want +got):\n%s", diff)
	}
}

func Test_LookupGroups_Truncates_Silently_When_Limit_Caps_Growth(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{
		"ann": {1, 2},
		"bob": {10, 11, 12, 13, 14},
	})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(2)

	if _, err := c.LookupGroups("ann", buf, 0); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}

	// bob has 5 IDs but the limit caps total capacity at 5; only 3 fit
	// after ann's 2. Truncation is success, not an error.
	n, err := c.LookupGroups("bob", buf, 5)
	if err != nil {
		t.Fatalf("capped lookup failed: %v", err)
	}

	if n != 3 {
		t.Fatalf("appended count = %d, want 3", n)
	}

	want := []uint32{1, 2, 10, 11, 12}
	if diff := cmp.Diff(want, buf.GIDs()); diff != "" {
		t.Fatalf("truncated GIDs mismatch (-want +got):\n%s", diff)
	}
}

func Test_LookupGroups_Succeeds_When_Record_Has_No_Groups(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{"loner": {}})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(0)

	n, err := c.LookupGroups("loner", buf, 0)
	if err != nil {
		t.Fatalf("LookupGroups failed: %v", err)
	}

	if n != 0 || buf.Len() != 0 {
		t.Fatalf("empty record lookup: n=%d len=%d, want 0/0", n, buf.Len())
	}
}

func Test_LookupGroups_Resolves_All_Names_When_Chains_Collide(t *testing.T) {
	t.Parallel()

	// A single-slot table forces every record onto one collision chain.
	entries := map[string][]uint32{
		"ann":   {1},
		"bob":   {2, 3},
		"carol": {4, 5, 6},
	}
	path := writeCacheFile(t, 1, entries)
	c := attachCache(t, path)

	for name, want := range entries {
		buf := groupmc.NewGIDBuffer(4)

		n, err := c.LookupGroups(name, buf, 0)
		if err != nil {
			t.Fatalf("LookupGroups(%q) failed: %v", name, err)
		}

		if n != len(want) {
			t.Fatalf("LookupGroups(%q) = %d IDs, want %d", name, n, len(want))
		}

		if diff := cmp.Diff(want, buf.GIDs()); diff != "" {
			t.Fatalf("GIDs(%q) mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func Test_LookupGroups_Finds_Earliest_Record_In_Deep_Chain(t *testing.T) {
	t.Parallel()

	// Head-insertion puts the first-added record at the tail of the chain.
	// With a 1-slot table every record lands on the same chain, so finding
	// "user00" requires walking past all later additions.
	path := filepath.Join(t.TempDir(), "initgroups.igc")

	w, err := groupmc.NewWriter(groupmc.WriterOptions{TableCount: 1})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	expire := time.Now().Add(time.Hour)

	const users = 16
	for i := 0; i < users; i++ {
		name := fmt.Sprintf("user%02d", i)

		if addErr := w.Add(name, []uint32{uint32(i)}, expire); addErr != nil {
			t.Fatalf("Add(%q) failed: %v", name, addErr)
		}
	}

	if writeErr := w.WriteTo(path); writeErr != nil {
		t.Fatalf("WriteTo failed: %v", writeErr)
	}

	c := attachCache(t, path)

	for i := 0; i < users; i++ {
		name := fmt.Sprintf("user%02d", i)
		buf := groupmc.NewGIDBuffer(1)

		n, lookupErr := c.LookupGroups(name, buf, 0)
		if lookupErr != nil {
			t.Fatalf("LookupGroups(%q) failed: %v", name, lookupErr)
		}

		if n != 1 || buf.GIDs()[0] != uint32(i) {
			t.Fatalf("LookupGroups(%q) = %d IDs %v, want [%d]", name, n, buf.GIDs(), i)
		}
	}
}

func Test_LookupGroups_Rejects_Invalid_Input(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{"ann": {1}})
	c := attachCache(t, path)

	buf := groupmc.NewGIDBuffer(4)

	cases := []struct {
		desc  string
		name  string
		buf   *groupmc.GIDBuffer
		limit int
	}{
		{desc: "empty name", name: "", buf: buf, limit: 0},
		{desc: "name with NUL", name: "an\x00n", buf: buf, limit: 0},
		{desc: "nil buffer", name: "ann", buf: nil, limit: 0},
		{desc: "negative limit", name: "ann", buf: buf, limit: -1},
	}

	for _, tc := range cases {
		_, err := c.LookupGroups(tc.name, tc.buf, tc.limit)
		if !errors.Is(err, groupmc.ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", tc.desc, err)
		}
	}

	if buf.Len() != 0 {
		t.Fatalf("rejected input touched buffer: len=%d", buf.Len())
	}
}

func Test_Entries_Returns_All_Valid_Records(t *testing.T) {
	t.Parallel()

	entries := map[string][]uint32{
		"ann": {1, 2},
		"bob": {3},
	}
	path := writeCacheFile(t, 0, entries)
	c := attachCache(t, path)

	got, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	if len(got) != len(entries) {
		t.Fatalf("Entries returned %d records, want %d", len(got), len(entries))
	}

	for _, entry := range got {
		want, ok := entries[entry.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", entry.Name)
		}

		if diff := cmp.Diff(want, entry.GIDs); diff != "" {
			t.Fatalf("GIDs(%q) mismatch (-want +got):\n%s", entry.Name, diff)
		}

		if !entry.Expire.After(time.Now()) {
			t.Fatalf("entry %q expire %v is not in the future", entry.Name, entry.Expire)
		}
	}
}
