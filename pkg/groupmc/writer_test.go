package groupmc_test

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/croftbryce/idcache/pkg/groupmc"
)

func Test_NewWriter_Rejects_Table_Count_Above_Limit(t *testing.T) {
	t.Parallel()

	_, err := groupmc.NewWriter(groupmc.WriterOptions{TableCount: 1 << 32})
	require.ErrorIs(t, err, groupmc.ErrInvalidInput)
}

func Test_Writer_Add_Rejects_Duplicate_Name(t *testing.T) {
	t.Parallel()

	w, err := groupmc.NewWriter(groupmc.WriterOptions{})
	require.NoError(t, err)

	expire := time.Now().Add(time.Hour)

	require.NoError(t, w.Add("ann", []uint32{1}, expire))
	require.ErrorIs(t, w.Add("ann", []uint32{2}, expire), groupmc.ErrInvalidInput)
	require.Equal(t, 1, w.Len())
}

func Test_Writer_Add_Rejects_Invalid_Names(t *testing.T) {
	t.Parallel()

	w, err := groupmc.NewWriter(groupmc.WriterOptions{})
	require.NoError(t, err)

	expire := time.Now().Add(time.Hour)

	require.ErrorIs(t, w.Add("", []uint32{1}, expire), groupmc.ErrInvalidInput)
	require.ErrorIs(t, w.Add("an\x00n", []uint32{1}, expire), groupmc.ErrInvalidInput)

	long := make([]byte, 513)
	for i := range long {
		long[i] = 'a'
	}

	require.ErrorIs(t, w.Add(string(long), []uint32{1}, expire), groupmc.ErrInvalidInput)
}

func Test_Writer_WriteTo_Publishes_Attachable_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "initgroups.igc")

	w, err := groupmc.NewWriter(groupmc.WriterOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Add("ann", []uint32{100, 4}, time.Now().Add(time.Hour)))
	require.NoError(t, w.WriteTo(path))

	c, err := groupmc.Attach(groupmc.Options{Path: path})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	info, err := c.Info()
	require.NoError(t, err)
	require.Equal(t, w.WriterID(), info.WriterID)
	require.False(t, info.Invalidated)

	buf := groupmc.NewGIDBuffer(4)
	n, err := c.LookupGroups("ann", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uint32{100, 4}, buf.GIDs())
}

func Test_Writer_WriteTo_Returns_ErrBusy_When_Lock_Held(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "initgroups.igc")

	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = lockFile.Close() }()

	require.NoError(t, syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	w, err := groupmc.NewWriter(groupmc.WriterOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, w.WriteTo(path), groupmc.ErrBusy)
}

func Test_MarkInvalidated_Is_Observed_By_Attached_Readers(t *testing.T) {
	t.Parallel()

	path := writeCacheFile(t, 0, map[string][]uint32{"ann": {1, 2}})
	c := attachCache(t, path)

	require.NoError(t, groupmc.MarkInvalidated(path))

	// Already-attached handle: lookups degrade to misses.
	buf := groupmc.NewGIDBuffer(4)
	_, err := c.LookupGroups("ann", buf, 0)
	require.ErrorIs(t, err, groupmc.ErrNotFound)

	// New attachments are refused outright.
	_, err = groupmc.Attach(groupmc.Options{Path: path})
	require.ErrorIs(t, err, groupmc.ErrInvalidated)
}
