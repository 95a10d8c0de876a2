// Package server implements the HTTP front-end: three routes that marshal
// requests into the three engine calls.
//
// The surface is deliberately small and deliberately forgiving. The only
// client error is a missing entryIndex parameter (400); everything else is
// a 200, including appends whose storage failed internally — the engine
// absorbs those by design. AddEntry takes its key as a query parameter,
// the two read routes take theirs from a request header; both shapes are
// part of the wire contract existing clients depend on.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iamNilotpal/pyre/internal/engine"
	"github.com/iamNilotpal/pyre/pkg/options"
	"go.uber.org/zap"
)

// entryIndexParam names both the query parameter and the header carrying
// the log key.
const entryIndexParam = "entryIndex"

// Server wires the engine behind the HTTP routes.
type Server struct {
	engine  *engine.Engine
	options *options.Options
	log     *zap.SugaredLogger
	http    *http.Server
}

// Config encapsulates the parameters required to initialize the Server.
type Config struct {
	Engine  *engine.Engine
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New builds the router and the underlying http.Server. Listening starts
// with Run.
func New(config *Config) *Server {
	s := &Server{
		engine:  config.Engine,
		options: config.Options,
		log:     config.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/AddEntry", s.handleAddEntry).Methods(http.MethodPost)
	router.HandleFunc("/GetEntries", s.handleGetEntries).Methods(http.MethodGet)
	router.HandleFunc("/GetLastEntry", s.handleGetLastEntry).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Options.Server.Address, config.Options.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree, mainly for tests driving the server
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run listens until the server is shut down. It reports
// http.ErrServerClosed as a clean exit.
func (s *Server) Run() error {
	s.log.Infow("starting http server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops listening.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleAddEntry accepts one payload for the key named by the entryIndex
// query parameter. The only client error is a missing key: a body past the
// configured cap is silently truncated, the same way the engine truncates
// payloads the u16 framing cannot carry.
func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get(entryIndexParam)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, s.options.Server.MaxBodyBytes))
	if err != nil {
		// An interrupted body stores whatever arrived; the append remains
		// optimistic either way.
		s.log.Debugw("short AddEntry body read", "key", key, "error", err)
	}

	s.engine.Append(key, payload)
	w.WriteHeader(http.StatusOK)
}

// handleGetEntries returns every frame recorded under the key named by the
// entryIndex header; an unknown key yields an empty body.
func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(entryIndexParam)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, s.engine.Entries(key))
}

// handleGetLastEntry returns only the newest frame recorded under the key
// named by the entryIndex header.
func (s *Server) handleGetLastEntry(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(entryIndexParam)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, s.engine.LastEntry(key))
}
