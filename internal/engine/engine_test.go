package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pyre/pkg/filesys"
	"github.com/iamNilotpal/pyre/pkg/logger"
	"github.com/iamNilotpal/pyre/pkg/options"
)

func newTestEngine(t *testing.T, opts ...options.OptionFunc) *Engine {
	t.Helper()

	o := options.NewDefaultOptions()
	options.WithDataDir(t.TempDir())(&o)
	for _, opt := range opts {
		opt(&o)
	}

	e, err := New(context.Background(), &Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewCreatesLayout(t *testing.T) {
	t.Parallel()

	o := options.NewDefaultOptions()
	options.WithDataDir(t.TempDir())(&o)

	e, err := New(context.Background(), &Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	defer e.Close()

	for _, dir := range []string{"data", "indexes"} {
		exists, err := filesys.Exists(filepath.Join(o.DataDir, dir))
		require.NoError(t, err)
		require.True(t, exists, "directory %q should exist", dir)
	}
}

func TestAppendThenEntries(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	require.True(t, e.Append("k", []byte("hello")))
	require.Equal(t, "5\x00hello\x00", e.Entries("k"))
}

func TestEntriesPreserveOrder(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	require.True(t, e.Append("k", []byte("aa")))
	require.True(t, e.Append("k", []byte("bbb")))
	require.Equal(t, "2\x00aa\x003\x00bbb\x00", e.Entries("k"))
}

func TestEntriesUnknownKey(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	require.Equal(t, "", e.Entries("never-written"))
	require.Equal(t, "", e.LastEntry("never-written"))
}

func TestLastEntry(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Append("k", []byte("one"))
	e.Append("k", []byte("two"))
	require.Equal(t, "3\x00two\x00", e.LastEntry("k"))
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Append("a", []byte("1"))
	e.Append("b", []byte("2"))

	require.Equal(t, "1\x001\x00", e.Entries("a"))
	require.Equal(t, "1\x002\x00", e.Entries("b"))
}

func TestReadSurvivesEviction(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t,
		options.WithMaxIdle(150*time.Millisecond),
		options.WithCheckInterval(20*time.Millisecond),
	)

	e.Append("k", []byte("x"))
	want := e.Entries("k")
	require.Equal(t, "1\x00x\x00", want)

	// Give the worker time to unload the idle handle, then read through
	// the reload path.
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, want, e.Entries("k"))
}

func TestDataSurvivesEngineRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := options.NewDefaultOptions()
	options.WithDataDir(dir)(&o)

	e, err := New(context.Background(), &Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	e.Append("k", []byte("durable"))
	require.NoError(t, e.Close())

	o2 := options.NewDefaultOptions()
	options.WithDataDir(dir)(&o2)
	e2, err := New(context.Background(), &Config{Options: &o2, Logger: logger.NewNop()})
	require.NoError(t, err)
	defer e2.Close()

	require.Equal(t, "7\x00durable\x00", e2.Entries("k"))
}

func TestCloseTwice(t *testing.T) {
	t.Parallel()

	o := options.NewDefaultOptions()
	options.WithDataDir(t.TempDir())(&o)
	e, err := New(context.Background(), &Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.Error(t, e.Close())
	require.False(t, e.Append("k", []byte("late")))
}
