// Package engine provides the facade the HTTP routes and the embedded API
// call into. It wires the persistent state directory, the handle registry
// and its eviction worker together, and exposes the three operations the
// store actually serves: append a payload under a key, read a key's frames
// back, read only the newest frame.
//
// The engine is deliberately optimistic: internal I/O failures are logged
// with their typed context and absorbed rather than surfaced. A failed
// append leaves the counters describing the last consistent state and the
// next append overwrites the torn tail. Callers only ever see an empty
// result for a key that cannot be served.
package engine

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/iamNilotpal/pyre/internal/registry"
	"github.com/iamNilotpal/pyre/internal/state"
	"github.com/iamNilotpal/pyre/internal/store"
	"github.com/iamNilotpal/pyre/pkg/errors"
	"github.com/iamNilotpal/pyre/pkg/filesys"
	"github.com/iamNilotpal/pyre/pkg/options"
	"go.uber.org/zap"
)

var (
	// ErrEngineClosed is returned by Close when the engine is already closed.
	ErrEngineClosed = errors.NewStateError(nil, errors.ErrorCodeInternal, "operation failed: cannot access closed engine")
)

// Engine coordinates the storage subsystems and manages their lifecycle.
// It is safe for concurrent use; operations on distinct keys proceed in
// parallel and operations on one key serialize on that key's handle.
type Engine struct {
	options  *options.Options
	log      *zap.SugaredLogger
	closed   atomic.Bool
	state    *state.State
	registry *registry.Registry
}

// Config holds all the parameters needed to initialize a new Engine instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates the on-disk layout and initializes all subsystems. The data
// and index directories are created up front; the state file appears with
// the first key.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Engine configuration is required",
		).WithField("config").WithRule("required")
	}

	for _, dir := range []string{
		filepath.Join(config.Options.DataDir, "data"),
		filepath.Join(config.Options.DataDir, "indexes"),
	} {
		if err := filesys.CreateDir(dir, 0755, true); err != nil {
			return nil, errors.ClassifyDirectoryCreationError(err, dir)
		}
	}

	st, err := state.New(&state.Config{Options: config.Options, Logger: config.Logger})
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(ctx, &registry.Config{
		State:   st,
		Options: config.Options,
		Logger:  config.Logger,
	})
	if err != nil {
		return nil, err
	}

	config.Logger.Infow("engine initialized",
		"dataDir", config.Options.DataDir,
		"maxIdle", config.Options.Eviction.MaxIdle,
		"checkInterval", config.Options.Eviction.CheckInterval,
	)

	return &Engine{
		options:  config.Options,
		log:      config.Logger,
		state:    st,
		registry: reg,
	}, nil
}

// Append records one payload under a key, creating the key's log on first
// use. It reports whether the entry was accepted for storage — which, per
// the optimistic contract, is every call on an open engine: I/O failures
// are logged and the next append self-heals.
func (e *Engine) Append(key string, payload []byte) bool {
	if e.closed.Load() {
		return false
	}

	h, err := e.registry.FindOrCreate(key, true)
	if err != nil || h == nil {
		e.logAbsorbed("append", key, err)
		return true
	}
	defer h.Unpin()

	if err := h.Append(payload); err != nil {
		e.logAbsorbed("append", key, err)
	}
	return true
}

// Entries returns every frame recorded under a key, framed as
// "{decimal length}\x00{payload}\x00" concatenations. An unknown key
// returns the empty string.
func (e *Engine) Entries(key string) string {
	var out strings.Builder
	e.read(key, "read_all", (*store.Handle).ReadAll, &out)
	return out.String()
}

// LastEntry returns only the newest frame recorded under a key, in the
// same wire format. An unknown key or an empty log returns the empty string.
func (e *Engine) LastEntry(key string) string {
	var out strings.Builder
	e.read(key, "read_last", (*store.Handle).ReadLast, &out)
	return out.String()
}

// read funnels both read operations through the same lookup-and-absorb
// path. Lookups never create: reading an unknown key must not mint a log.
func (e *Engine) read(key, op string, fn func(*store.Handle, io.Writer) error, out *strings.Builder) {
	if e.closed.Load() {
		return
	}

	h, err := e.registry.FindOrCreate(key, false)
	if err != nil {
		e.logAbsorbed(op, key, err)
		return
	}
	if h == nil {
		return
	}
	defer h.Unpin()

	if err := fn(h, out); err != nil {
		e.logAbsorbed(op, key, err)
	}
}

// logAbsorbed reports an internal failure that was swallowed by design.
func (e *Engine) logAbsorbed(op, key string, err error) {
	if err == nil {
		return
	}
	e.log.Errorw("operation failed, continuing",
		"operation", op,
		"key", key,
		"error", err,
		"errorCode", errors.GetErrorCode(err),
		"details", errors.GetErrorDetails(err),
	)
}

// Close gracefully shuts down the engine: the eviction worker stops and
// every loaded handle persists its index record.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	return e.registry.Close()
}
