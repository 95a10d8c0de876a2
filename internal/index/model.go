package index

import (
	"github.com/iamNilotpal/pyre/pkg/fileid"
)

// Record versions understood by this build. Version 1 predates the byte
// accounting fields; its loader zero-fills them and the next full persist
// rewrites the record as version 2.
const (
	Version1 uint32 = 1
	Version2 uint32 = 2

	// CurrentVersion is what Marshal always writes.
	CurrentVersion = Version2
)

const (
	// MaxKeyBytes is the longest key the store distinguishes. Longer keys
	// are truncated, so two keys sharing a 47-byte prefix address the same
	// log.
	MaxKeyBytes = 47

	// nameSize is the on-disk key buffer: MaxKeyBytes plus a NUL terminator.
	nameSize = 48

	// Binary Layout (Little Endian, packed)
	//
	//	Offset  Size  Field
	//	0       4     version      (currently 2)
	//	4       14    file id      (u64 timestamp | u32 generator hash | u16 random)
	//	18      48    name         (NUL-terminated, zero-padded)
	//	66      4     entry count
	//	70      4     total bytes  (v2 only)
	//	74      4     key count    (v2 only, reserved, always 0)

	// RecordSizeV1 is the byte length of a version-1 record.
	RecordSizeV1 = 70

	// RecordSizeV2 is the byte length of a version-2 record.
	RecordSizeV2 = 78
)

// Record is the fixed-size metadata block describing one key's log. It is
// the only thing written to a log's index file, always as one complete
// overwrite; the counters are the authoritative shape of the data file.
type Record struct {
	// Version is the record schema version found on disk, or CurrentVersion
	// for freshly created records.
	Version uint32

	// FileID is the stem shared by this log's index file and data file.
	FileID fileid.ID

	// Name is the key, already truncated to MaxKeyBytes.
	Name string

	// EntryCount is the number of length-prefixed frames in the data file.
	EntryCount uint32

	// TotalBytes is the byte length of the data file including framing:
	// the sum of 2+len over all frames.
	TotalBytes uint32

	// KeyCount is reserved for a multi-key record variant and is always
	// zero in this profile. Records with a non-zero KeyCount decode fine;
	// nothing here produces them.
	KeyCount uint32
}

// NewRecord builds a fresh current-version record for a key. The key is
// truncated to MaxKeyBytes; counters start at zero.
func NewRecord(key string, id fileid.ID) *Record {
	return &Record{
		Version: CurrentVersion,
		FileID:  id,
		Name:    TruncateKey(key),
	}
}
