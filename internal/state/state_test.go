package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pyre/internal/index"
	"github.com/iamNilotpal/pyre/internal/store"
	"github.com/iamNilotpal/pyre/pkg/fileid"
	"github.com/iamNilotpal/pyre/pkg/filesys"
	"github.com/iamNilotpal/pyre/pkg/logger"
	"github.com/iamNilotpal/pyre/pkg/options"
)

func newTestState(t *testing.T) (*State, *options.Options) {
	t.Helper()

	dir := t.TempDir()
	o := options.NewDefaultOptions()
	options.WithDataDir(dir)(&o)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "indexes"), 0755))

	s, err := New(&Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	return s, &o
}

// persistKey writes a real index file plus one appended entry for key, the
// way a handle eviction would, and returns its file ID.
func persistKey(t *testing.T, s *State, o *options.Options, key, payload string) fileid.ID {
	t.Helper()

	record := index.NewRecord(key, fileid.Generate())
	h, err := store.New(&store.Config{Record: record, Options: o, Logger: logger.NewNop()})
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte(payload)))
	require.NoError(t, h.Persist())
	require.NoError(t, s.Add(key, record.FileID))
	return record.FileID
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	s, _ := newTestState(t)
	id := fileid.Generate()
	require.NoError(t, s.Add("k", id))

	got, found := s.Get(index.HashKey("k"))
	require.True(t, found)
	require.Equal(t, id, got)
}

func TestGetMissOnEmptyState(t *testing.T) {
	t.Parallel()

	s, _ := newTestState(t)
	_, found := s.Get(index.HashKey("never"))
	require.False(t, found)
}

func TestGetFirstMatchWins(t *testing.T) {
	t.Parallel()

	// Duplicate hashes are tolerated; lookups return the first record.
	s, _ := newTestState(t)
	first := fileid.Generate()
	second := fileid.Generate()
	require.NoError(t, s.Add("k", first))
	require.NoError(t, s.Add("k", second))

	got, found := s.Get(index.HashKey("k"))
	require.True(t, found)
	require.Equal(t, first, got)
}

func TestFindLogReloadsHandle(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	persistKey(t, s, o, "k", "x")

	h, err := s.FindLog("k")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, "k", h.Name())
	require.Equal(t, uint32(1), h.EntryCount())

	var out strings.Builder
	require.NoError(t, h.ReadAll(&out))
	require.Equal(t, "1\x00x\x00", out.String())
}

func TestFindLogUnknownKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestState(t)
	h, err := s.FindLog("never-written")
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestFindLogTruncatesKey(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	long := strings.Repeat("q", index.MaxKeyBytes) + "-ignored-tail"
	persistKey(t, s, o, long, "v")

	// Any key sharing the 47-byte prefix resolves to the same log.
	h, err := s.FindLog(strings.Repeat("q", index.MaxKeyBytes) + "-other-tail")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, strings.Repeat("q", index.MaxKeyBytes), h.Name())
}

func TestLookupSelfHealsAfterStateFileDeleted(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	persistKey(t, s, o, "alpha", "1")
	persistKey(t, s, o, "beta", "2")

	// Losing state.dat entirely must not lose the keys: the very next
	// lookup notices the missing file, rebuilds the mapping from the
	// index files, and resolves.
	require.NoError(t, os.Remove(s.statePath))

	for _, key := range []string{"alpha", "beta"} {
		h, err := s.FindLog(key)
		require.NoError(t, err)
		require.NotNil(t, h, "key %q lost after state file deletion", key)
	}

	// The rebuild left a fresh state file behind.
	exists, err := filesys.Exists(s.statePath)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestGetRecoversFromCorruptTail(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	persistKey(t, s, o, "k", "v")

	// A partial trailing record means some writer died mid-append. A
	// lookup that scans past it spots the damage and rebuilds.
	f, err := os.OpenFile(s.statePath, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// This miss has to walk the whole file, tripping over the tail.
	_, found := s.Get(index.HashKey("not-there"))
	require.False(t, found)

	// The key is still resolvable afterwards.
	got, found := s.Get(index.HashKey("k"))
	require.True(t, found)
	require.False(t, got.IsZero())

	// The rebuild also repaired the file shape.
	info, err := os.Stat(s.statePath)
	require.NoError(t, err)
	require.Zero(t, info.Size()%int64(recordSize))
}

func TestFindLogRebuildsWhenIndexFileMissing(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	persistKey(t, s, o, "keep", "v")
	gone := persistKey(t, s, o, "gone", "v")

	// Remove one index file behind the state's back; its key becomes a
	// miss after the automatic rebuild, the other key still resolves.
	require.NoError(t, os.Remove(filepath.Join(s.indexDir, gone.String()+".dat")))

	h, err := s.FindLog("gone")
	require.NoError(t, err)
	require.Nil(t, h)

	h, err = s.FindLog("keep")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, "keep", h.Name())
}

func TestRebuildSkipsForeignFiles(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	persistKey(t, s, o, "real", "v")

	// Files whose stems don't parse, or whose bodies don't decode, are
	// skipped rather than aborting the rebuild.
	require.NoError(t, os.WriteFile(filepath.Join(s.indexDir, "README.dat"), []byte("not an index"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.indexDir, fileid.Generate().String()+".dat"), []byte{1, 2}, 0644))

	require.NoError(t, s.Rebuild())

	h, err := s.FindLog("real")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestCheckAndRebuildRepairsStaleState(t *testing.T) {
	t.Parallel()

	s, o := newTestState(t)
	stale := persistKey(t, s, o, "stale", "v")
	persistKey(t, s, o, "live", "v")

	require.NoError(t, os.Remove(filepath.Join(s.indexDir, stale.String()+".dat")))

	s.CheckAndRebuild()

	// The rebuilt state no longer references the missing file.
	_, found := s.Get(index.HashKey("stale"))
	require.False(t, found)
	_, found = s.Get(index.HashKey("live"))
	require.True(t, found)
}
