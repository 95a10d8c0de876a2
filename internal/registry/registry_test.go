package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pyre/internal/index"
	"github.com/iamNilotpal/pyre/internal/state"
	"github.com/iamNilotpal/pyre/internal/store"
	"github.com/iamNilotpal/pyre/pkg/logger"
	"github.com/iamNilotpal/pyre/pkg/options"
)

func newTestRegistry(t *testing.T, opts ...options.OptionFunc) (*Registry, *options.Options) {
	t.Helper()

	dir := t.TempDir()
	o := options.NewDefaultOptions()
	options.WithDataDir(dir)(&o)
	for _, opt := range opts {
		opt(&o)
	}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "indexes"), 0755))

	st, err := state.New(&state.Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)

	r, err := New(context.Background(), &Config{State: st, Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, &o
}

func appendOne(t *testing.T, r *Registry, key, payload string) {
	t.Helper()
	h, err := r.FindOrCreate(key, true)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, h.Append([]byte(payload)))
	h.Unpin()
}

func readAll(t *testing.T, r *Registry, key string) string {
	t.Helper()
	h, err := r.FindOrCreate(key, false)
	require.NoError(t, err)
	if h == nil {
		return ""
	}
	defer h.Unpin()

	var out strings.Builder
	require.NoError(t, h.ReadAll(&out))
	return out.String()
}

func TestFindOrCreateCreates(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	appendOne(t, r, "k", "hello")
	require.Equal(t, 1, r.Loaded())
	require.Equal(t, "5\x00hello\x00", readAll(t, r, "k"))
}

func TestFindOrCreateNoCreateMiss(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	h, err := r.FindOrCreate("missing", false)
	require.NoError(t, err)
	require.Nil(t, h)
	require.Equal(t, 0, r.Loaded())
}

func TestSameHandleForSamePrefix(t *testing.T) {
	t.Parallel()

	// Keys sharing the 47-byte prefix collide by design and share one
	// handle, one data file, one log.
	r, _ := newTestRegistry(t)
	prefix := strings.Repeat("p", index.MaxKeyBytes)

	appendOne(t, r, prefix+"-one", "a")
	appendOne(t, r, prefix+"-two", "b")

	require.Equal(t, 1, r.Loaded())
	require.Equal(t, "1\x00a\x001\x00b\x00", readAll(t, r, prefix))
}

func TestEvictionAndReload(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t,
		options.WithMaxIdle(150*time.Millisecond),
		options.WithCheckInterval(20*time.Millisecond),
	)

	appendOne(t, r, "k", "x")
	before := readAll(t, r, "k")
	require.Equal(t, "1\x00x\x00", before)

	// Wait out the idle window; the worker persists and drops the handle.
	require.Eventually(t, func() bool { return r.Loaded() == 0 },
		2*time.Second, 10*time.Millisecond)

	// The next lookup reloads from the state directory with identical
	// contents.
	require.Equal(t, before, readAll(t, r, "k"))
	require.Equal(t, 1, r.Loaded())
}

func TestDataSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := options.NewDefaultOptions()
	options.WithDataDir(dir)(&o)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "indexes"), 0755))

	st, err := state.New(&state.Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	r, err := New(context.Background(), &Config{State: st, Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)

	appendOne(t, r, "k", "persisted")
	require.NoError(t, r.Close())

	// A fresh registry over the same directory sees the key.
	st2, err := state.New(&state.Config{Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	r2, err := New(context.Background(), &Config{State: st2, Options: &o, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r2.Close() })

	require.Equal(t, "9\x00persisted\x00", readAll(t, r2, "k"))
}

func TestPinnedHandleIsNotEvicted(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t,
		options.WithMaxIdle(150*time.Millisecond),
		options.WithCheckInterval(20*time.Millisecond),
	)

	h, err := r.FindOrCreate("k", true)
	require.NoError(t, err)
	require.NotNil(t, h)

	// The pin outlives several eviction scans.
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, 1, r.Loaded())

	h.Unpin()
	require.Eventually(t, func() bool { return r.Loaded() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestConcurrentLookupsSingleHandle(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	handles := make([]*store.Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.FindOrCreate("k", true)
			if err == nil {
				handles[i] = h
			}
		}()
	}
	wg.Wait()

	// Racing creators must all land on one handle.
	for _, h := range handles {
		require.NotNil(t, h)
		require.Same(t, handles[0], h)
		h.Unpin()
	}
	require.Equal(t, 1, r.Loaded())
}

func TestCloseIsIdempotentlyRejected(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	require.NoError(t, r.Close())
	require.Error(t, r.Close())

	_, err := r.FindOrCreate("k", true)
	require.Error(t, err)
}
