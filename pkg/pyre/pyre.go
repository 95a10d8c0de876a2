// Package pyre provides an HTTP-fronted per-key append-only log store.
// Clients record opaque payloads under short textual keys and read back
// the recorded sequence. Each key's log lives in its own on-disk data
// file described by a small index record; idle logs are unloaded from
// memory on a timer and transparently reloaded through a persistent state
// directory, so the store handles far more keys than it keeps in memory
// and every log survives process restarts.
//
// This package is the embedded-use entry point: it owns logger and options
// construction and exposes the engine's operations directly, without the
// HTTP layer. The server binary in cmd/pyre builds the HTTP front-end on
// top of the same engine.
package pyre

import (
	"context"

	"github.com/iamNilotpal/pyre/internal/engine"
	"github.com/iamNilotpal/pyre/pkg/logger"
	"github.com/iamNilotpal/pyre/pkg/options"
)

// Instance represents one pyre log store rooted at a data directory.
//
// Instance is the primary entry point for embedding the store, providing
// methods for appending and reading entries.
type Instance struct {
	engine  *engine.Engine   // The underlying engine handling storage operations.
	options *options.Options // Configuration options applied to this instance.
}

// New creates and initializes a pyre instance.
func New(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service, 0)

	// Initialize default options, then apply any provided overrides.
	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// Append records one payload under a key, creating the key's log on first
// use. Payloads longer than one frame can carry are truncated, and keys
// longer than the on-disk key buffer are clipped; neither is an error.
func (i *Instance) Append(key string, payload []byte) bool {
	return i.engine.Append(key, payload)
}

// Entries returns every payload recorded under the key, oldest first, as
// "{decimal length}\x00{payload}\x00" concatenations. Unknown keys return "".
func (i *Instance) Entries(key string) string {
	return i.engine.Entries(key)
}

// LastEntry returns only the newest payload recorded under the key, in the
// same framing. Unknown keys and empty logs return "".
func (i *Instance) LastEntry(key string) string {
	return i.engine.LastEntry(key)
}

// Close gracefully shuts the instance down, stopping the eviction worker
// and persisting every loaded log's index record.
func (i *Instance) Close() error {
	return i.engine.Close()
}
