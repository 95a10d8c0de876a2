// Package state maintains the persistent mapping that lets a key's log be
// found again after its handle was evicted or the process restarted.
//
// The mapping lives in a single flat file, state.dat: an array of fixed
// 22-byte records, each a little-endian u64 key hash followed by the
// 14-byte file ID naming the key's index and data files. Records are in
// insertion order; lookups scan linearly and the first hash match wins.
//
// The file is a cache, not the source of truth — the index files are. On
// any detected corruption (a trailing partial record, a referenced index
// file that is gone) the whole file is rebuilt by enumerating the index
// directory, parsing each filename stem back into a file ID and each file
// body back into an index record. Index files that fail either parse are
// skipped, so one damaged or foreign file never blocks recovery of the
// rest.
package state

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/iamNilotpal/pyre/internal/index"
	"github.com/iamNilotpal/pyre/internal/store"
	"github.com/iamNilotpal/pyre/pkg/errors"
	"github.com/iamNilotpal/pyre/pkg/fileid"
	"github.com/iamNilotpal/pyre/pkg/filesys"
	"github.com/iamNilotpal/pyre/pkg/options"
	"go.uber.org/zap"
)

// recordSize is the packed length of one state record: hash plus file ID.
const recordSize = 8 + fileid.Size

// State serializes all access to state.dat. Reads take the lock shared;
// Add appends under the exclusive lock, which is what makes plain appends
// safe — there is never an open-for-append racing an open-for-read.
type State struct {
	mu sync.RWMutex

	statePath string // <dataDir>/state.dat
	indexDir  string // <dataDir>/indexes

	options *options.Options
	log     *zap.SugaredLogger
}

// Config encapsulates the parameters required to initialize the State.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New prepares the state directory handle. The state file itself is created
// lazily by the first Add or Rebuild.
func New(config *Config) (*State, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "State configuration is required",
		).WithField("config").WithRule("required")
	}

	return &State{
		statePath: filepath.Join(config.Options.DataDir, "state.dat"),
		indexDir:  filepath.Join(config.Options.DataDir, "indexes"),
		options:   config.Options,
		log:       config.Logger,
	}, nil
}

// Get resolves a key hash to the file ID recorded for it. A state file that
// does not exist while no index files exist either is an ordinary miss. A
// malformed state file, or a missing one with index files behind it,
// triggers one rebuild followed by one more scan.
func (s *State) Get(hash uint64) (fileid.ID, bool) {
	s.mu.RLock()
	id, found, corrupt := s.scan(hash)
	s.mu.RUnlock()

	if !corrupt {
		return id, found
	}

	s.log.Warnw("state file is corrupt, rebuilding", "path", s.statePath)
	if err := s.Rebuild(); err != nil {
		s.log.Errorw("state rebuild failed", "error", err, "errorCode", errors.GetErrorCode(err))
		return fileid.ID{}, false
	}

	s.mu.RLock()
	id, found, _ = s.scan(hash)
	s.mu.RUnlock()
	return id, found
}

// scan linearly walks state.dat for the first record matching hash. The
// third return reports a file in need of rebuilding: a tail that is not a
// whole number of records, or a state file that is missing even though
// index files exist. Caller must hold the lock.
func (s *State) scan(hash uint64) (fileid.ID, bool, bool) {
	file, err := os.Open(s.statePath)
	if err != nil {
		// A deleted state file with persisted index records behind it
		// must rebuild, not report a miss; a brand-new directory with no
		// index files is an ordinary miss.
		if os.IsNotExist(err) {
			return fileid.ID{}, false, s.indexFilesPresent()
		}
		return fileid.ID{}, false, false
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	record := make([]byte, recordSize)
	for {
		if _, err := io.ReadFull(reader, record); err != nil {
			// A clean EOF ends the scan; anything else means a partial
			// trailing record.
			return fileid.ID{}, false, err != io.EOF
		}
		if binary.LittleEndian.Uint64(record[0:8]) == hash {
			return fileid.Decode(record[8:recordSize]), true, false
		}
	}
}

// Add registers a freshly created log under the exclusive writer lock. The
// record is a plain append; holding the writer lock for the duration is
// what keeps concurrent readers away from a half-written tail.
func (s *State) Add(name string, id fileid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.statePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewStateError(err, errors.ErrorCodeIO, "Failed to open state file for append").
			WithOperation("Add").
			WithKey(name)
	}
	defer file.Close()

	if _, err := file.Write(encodeRecord(index.HashKey(name), id)); err != nil {
		return errors.NewStateError(err, errors.ErrorCodeIO, "Failed to append state record").
			WithOperation("Add").
			WithKey(name).
			WithHash(index.HashKey(name))
	}
	return nil
}

// Rebuild re-derives state.dat from the index directory: every index file
// whose stem parses as a file ID and whose body decodes as a supported
// record contributes one (hash, file ID) pair. The state file is replaced
// wholesale.
func (s *State) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked()
}

func (s *State) rebuildLocked() error {
	stems, err := filesys.ReadDir(filepath.Join(s.indexDir, "*.dat"))
	if err != nil {
		return errors.NewStateError(err, errors.ErrorCodeRebuildFailed, "Failed to enumerate index files").
			WithOperation("Rebuild").
			WithDetail("indexDir", s.indexDir)
	}

	file, err := os.OpenFile(s.statePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.NewStateError(err, errors.ErrorCodeRebuildFailed, "Failed to open state file for rebuild").
			WithOperation("Rebuild")
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	rebuilt := 0
	for _, path := range stems {
		stem := filepath.Base(path)
		stem = stem[:len(stem)-len(".dat")]

		id, err := fileid.Parse(stem)
		if err != nil {
			s.log.Debugw("skipping index file with unparsable stem", "path", path, "error", err)
			continue
		}

		blob, err := os.ReadFile(path)
		if err != nil {
			s.log.Warnw("skipping unreadable index file", "path", path, "error", err)
			continue
		}

		record, err := index.Unmarshal(blob)
		if err != nil {
			if index.IsUnknownVersion(err) {
				s.log.Infow("skipping index file with unsupported version", "path", path)
			} else {
				s.log.Warnw("skipping undecodable index file", "path", path, "error", err)
			}
			continue
		}

		if _, err := writer.Write(encodeRecord(record.Hash(), id)); err != nil {
			return errors.NewStateError(err, errors.ErrorCodeRebuildFailed, "Failed to write rebuilt state record").
				WithOperation("Rebuild").
				WithKey(record.Name)
		}
		rebuilt++
	}

	if err := writer.Flush(); err != nil {
		return errors.NewStateError(err, errors.ErrorCodeRebuildFailed, "Failed to flush rebuilt state file").
			WithOperation("Rebuild")
	}

	s.log.Infow("state file rebuilt", "records", rebuilt, "path", s.statePath)
	return nil
}

// CheckAndRebuild verifies that state.dat still agrees with the index
// directory — whole records only, every referenced index file present —
// and rebuilds when it doesn't. The eviction worker runs this after each
// batch of evictions. Rebuild failure is logged and absorbed: in-memory
// handles keep serving, only reload-after-eviction degrades.
func (s *State) CheckAndRebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consistentLocked() {
		return
	}

	s.log.Warnw("state file inconsistent with index directory, rebuilding", "path", s.statePath)
	if err := s.rebuildLocked(); err != nil {
		s.log.Errorw("state rebuild failed", "error", err, "errorCode", errors.GetErrorCode(err))
	}
}

// consistentLocked reports whether state.dat parses cleanly and references
// only index files that exist. Caller must hold the exclusive lock.
func (s *State) consistentLocked() bool {
	file, err := os.Open(s.statePath)
	if err != nil {
		// No state file while index files exist means evictions have
		// persisted records that are unfindable; rebuild in that case.
		return !s.indexFilesPresent()
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	record := make([]byte, recordSize)
	for {
		if _, err := io.ReadFull(reader, record); err != nil {
			return err == io.EOF
		}

		id := fileid.Decode(record[8:recordSize])
		exists, statErr := filesys.Exists(filepath.Join(s.indexDir, id.String()+".dat"))
		if statErr != nil || !exists {
			return false
		}
	}
}

// indexFilesPresent reports whether any index files exist on disk.
func (s *State) indexFilesPresent() bool {
	stems, err := filesys.ReadDir(filepath.Join(s.indexDir, "*.dat"))
	return err == nil && len(stems) > 0
}

// FindLog reloads a key's handle from disk: hash to file ID through
// state.dat, file ID to index record through the index file, record to a
// fresh Handle. A missing index file triggers one rebuild and one retry; a
// second miss reports the key as unknown. The returned handle is nil on
// any miss, with a nil error — an unknown key is not a failure.
func (s *State) FindLog(key string) (*store.Handle, error) {
	key = index.TruncateKey(key)
	hash := index.HashKey(key)

	for attempt := 0; attempt < 2; attempt++ {
		id, found := s.Get(hash)
		if !found {
			return nil, nil
		}

		blob, err := os.ReadFile(filepath.Join(s.indexDir, id.String()+".dat"))
		if err != nil {
			if os.IsNotExist(err) && attempt == 0 {
				// The state file references an index file that is gone:
				// stale state. Rebuild and try once more.
				if rebuildErr := s.Rebuild(); rebuildErr != nil {
					return nil, rebuildErr
				}
				continue
			}
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, errors.NewStateError(err, errors.ErrorCodeIO, "Failed to read index file").
				WithOperation("FindLog").
				WithKey(key).
				WithHash(hash)
		}

		record, err := index.Unmarshal(blob)
		if err != nil {
			if index.IsUnknownVersion(err) {
				return nil, nil
			}
			return nil, errors.NewStateError(err, errors.ErrorCodeStateCorrupted, "Index file referenced by state does not decode").
				WithOperation("FindLog").
				WithKey(key).
				WithHash(hash)
		}

		return store.New(&store.Config{
			Record:  record,
			Options: s.options,
			Logger:  s.log,
		})
	}

	return nil, nil
}

// encodeRecord packs one state record: u64 hash, then the file ID.
func encodeRecord(hash uint64, id fileid.ID) []byte {
	b := make([]byte, recordSize)
	binary.LittleEndian.PutUint64(b[0:8], hash)
	id.Encode(b[8:recordSize])
	return b
}
