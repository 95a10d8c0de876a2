// Package registry owns the process-wide map from key to loaded log handle
// and the background worker that unloads idle handles.
//
// Two lock levels are at play. The registry's reader-writer lock guards the
// topology of the map — who is loaded — never the internals of a handle;
// each handle serializes its own file I/O behind its own mutex. Lookups
// that hit a loaded handle take the registry lock shared, so traffic on
// distinct keys only contends at lookup time.
//
// Handles returned by FindOrCreate are pinned before the registry lock is
// released and unpinned by the caller when done. The eviction worker never
// unloads a pinned handle, so a reference obtained from a lookup stays
// valid for the whole operation. Eviction itself moves victims out of the
// map under the exclusive lock but persists them after releasing it, so no
// registry lock is ever held across data-file I/O.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamNilotpal/pyre/internal/index"
	"github.com/iamNilotpal/pyre/internal/state"
	"github.com/iamNilotpal/pyre/internal/store"
	"github.com/iamNilotpal/pyre/pkg/errors"
	"github.com/iamNilotpal/pyre/pkg/fileid"
	"github.com/iamNilotpal/pyre/pkg/options"
	"go.uber.org/zap"
)

var (
	// ErrRegistryClosed is returned when attempting to perform operations
	// on a closed registry.
	ErrRegistryClosed = errors.NewStateError(nil, errors.ErrorCodeInternal, "operation failed: cannot access closed registry")
)

// Registry maps truncated keys to their loaded handles and runs the
// eviction worker.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*store.Handle

	state   *state.State
	options *options.Options
	log     *zap.SugaredLogger

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config encapsulates the parameters required to initialize a Registry.
type Config struct {
	State   *state.State
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates the registry and starts the eviction worker. The worker runs
// until Close or until ctx is canceled.
func New(ctx context.Context, config *Config) (*Registry, error) {
	if config == nil || config.State == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Registry configuration is required",
		).WithField("config").WithRule("required")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	r := &Registry{
		handles: make(map[string]*store.Handle, 1024),
		state:   config.State,
		options: config.Options,
		log:     config.Logger,
		cancel:  cancel,
	}

	r.wg.Add(1)
	go r.evictionLoop(workerCtx)

	return r, nil
}

// FindOrCreate resolves a key to its handle, following the lookup ladder:
// loaded handle, state-directory reload, then — only when create is set —
// a fresh handle with a fresh file ID. The returned handle is pinned; the
// caller must Unpin it when the operation completes. A nil handle with a
// nil error means the key is unknown and create was false.
func (r *Registry) FindOrCreate(key string, create bool) (*store.Handle, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	key = index.TruncateKey(key)
	hash := index.HashKey(key)

	// Fast path: the handle is loaded. Both the name and the hash must
	// agree before the handle is handed out.
	r.mu.RLock()
	if h, ok := r.handles[key]; ok && h.Hash() == hash {
		h.Pin()
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have loaded or created the handle while the lock
	// was released.
	if h, ok := r.handles[key]; ok && h.Hash() == hash {
		h.Pin()
		return h, nil
	}

	// The key may exist on disk with no loaded handle: reload it through
	// the state directory.
	h, err := r.state.FindLog(key)
	if err != nil {
		return nil, err
	}
	if h != nil {
		r.handles[key] = h
		h.Pin()
		return h, nil
	}

	if !create {
		return nil, nil
	}

	record := index.NewRecord(key, fileid.Generate())
	h, err = store.New(&store.Config{
		Record:  record,
		Options: r.options,
		Logger:  r.log,
	})
	if err != nil {
		return nil, err
	}

	r.handles[key] = h

	// Seed the index file right away so the on-disk state and the index
	// directory agree from the key's first moment: the post-eviction
	// consistency check treats a state record without its index file as
	// corruption and would drop the key during rebuild.
	if err := h.Persist(); err != nil {
		r.log.Errorw("failed to seed index file for new key",
			"key", key,
			"error", err,
			"errorCode", errors.GetErrorCode(err),
		)
	}
	if err := r.state.Add(key, record.FileID); err != nil {
		// The handle still serves from memory; only reload-after-eviction
		// is degraded until the next rebuild repairs the state file.
		r.log.Errorw("failed to register key in state file",
			"key", key,
			"error", err,
			"errorCode", errors.GetErrorCode(err),
		)
	}

	h.Pin()
	return h, nil
}

// Loaded returns how many handles are currently in memory.
func (r *Registry) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// evictionLoop periodically unloads handles idle past the configured
// window, persisting each one's index record so the log survives on disk.
func (r *Registry) evictionLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.options.Eviction.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

// evictIdle runs one eviction pass: a shared-lock scan to find candidates,
// an exclusive-lock pass to move them out of the map, persistence outside
// any registry lock, then a state consistency check.
func (r *Registry) evictIdle(now time.Time) {
	r.mu.RLock()
	var candidates []string
	for key, h := range r.handles {
		if h.ShouldUnload(now) {
			candidates = append(candidates, key)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	r.mu.Lock()
	victims := make([]*store.Handle, 0, len(candidates))
	for _, key := range candidates {
		h, ok := r.handles[key]
		// Re-check under the exclusive lock: the handle may have been
		// touched or pinned since the scan.
		if !ok || !h.ShouldUnload(now) {
			continue
		}
		delete(r.handles, key)
		victims = append(victims, h)
	}
	r.mu.Unlock()

	for _, h := range victims {
		if err := h.Persist(); err != nil {
			r.log.Errorw("failed to persist evicted handle",
				"key", h.Name(),
				"error", err,
				"errorCode", errors.GetErrorCode(err),
			)
		}
	}

	if len(victims) > 0 {
		r.log.Debugw("evicted idle handles", "count", len(victims))
		r.state.CheckAndRebuild()
	}
}

// Close stops the eviction worker and persists every loaded handle. This
// is the normal-shutdown index overwrite: after Close returns, every log's
// on-disk record matches its in-memory counters.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrRegistryClosed
	}

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	victims := make([]*store.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		victims = append(victims, h)
	}
	clear(r.handles)
	r.mu.Unlock()

	for _, h := range victims {
		if err := h.Persist(); err != nil {
			r.log.Errorw("failed to persist handle during shutdown",
				"key", h.Name(),
				"error", err,
				"errorCode", errors.GetErrorCode(err),
			)
		}
	}

	r.log.Infow("registry closed", "persisted", len(victims))
	return nil
}
