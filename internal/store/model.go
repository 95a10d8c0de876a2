package store

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/pyre/internal/index"
	"github.com/iamNilotpal/pyre/pkg/options"
	"go.uber.org/zap"
)

// fileMode tracks how the data file handle is currently open. Append, read
// and compaction each need a different mode; the handle reopens lazily when
// the requested mode differs from the current one and keeps the file as-is
// when it matches.
type fileMode int

const (
	modeNone fileMode = iota // No data file handle is open.
	modeRead                 // Open read-only for sequential scans.
	modeAppend               // Open write-only for appends at TotalBytes.
	modeReadWrite            // Open read-write for the compaction cycle.
)

// Handle is the in-memory representation of one key's log: its index
// record, the lazily-opened data file, and the append/read/compact
// operations. All access to a log funnels through its Handle.
//
// The mutex is exclusive for readers too: a read may have to reopen the
// data file in a different mode, which mutates the Handle. Appends on one
// key are totally ordered by mutex acquisition, and that order is the order
// frames land in the data file.
type Handle struct {
	mu     sync.Mutex
	record *index.Record
	hash   uint64 // Stable hash of the truncated key; agrees with record.Name.

	file *os.File
	mode fileMode

	// touched is the unix-nano time of the last operation, read by the
	// eviction worker without taking the handle mutex.
	touched atomic.Int64

	// pins counts callers currently holding a reference handed out by the
	// registry. The eviction worker never unloads a pinned handle.
	pins atomic.Int32

	dataPath  string // <dataDir>/data/<stem>.dat
	indexPath string // <dataDir>/indexes/<stem>.dat

	options *options.Options
	log     *zap.SugaredLogger
}

// Config encapsulates the parameters required to materialize a Handle,
// whether freshly created or reloaded from an index file.
type Config struct {
	Record  *index.Record
	Options *options.Options
	Logger  *zap.SugaredLogger
}
