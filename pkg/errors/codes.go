package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur anywhere in the system.
const (
	// ErrorCodeIO represents failures in input/output operations: reading,
	// writing, flushing or truncating the data, index, or state files.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents errors where the provided input
	// doesn't meet the system's requirements or constraints, such as a
	// missing component configuration.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected failures that don't fit into
	// other categories.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes cover the failure modes of per-key data and
// index files.
const (
	// ErrorCodeRecordCorrupted indicates an index record whose bytes do not
	// decode as any supported version.
	ErrorCodeRecordCorrupted ErrorCode = "RECORD_CORRUPTED"

	// ErrorCodeUnknownVersion indicates an index record with a version this
	// build does not understand. Such records are skipped, never rewritten.
	ErrorCodeUnknownVersion ErrorCode = "UNKNOWN_RECORD_VERSION"

	// ErrorCodeFrameReadFailure indicates a data file whose next
	// length-prefixed frame could not be read in full.
	ErrorCodeFrameReadFailure ErrorCode = "FRAME_READ_FAILURE"

	// ErrorCodeTruncateFailure indicates the compaction cycle could not
	// shrink the data file to its new length.
	ErrorCodeTruncateFailure ErrorCode = "TRUNCATE_FAILURE"

	// ErrorCodePermissionDenied indicates insufficient permissions to access
	// a file or directory under the data dir.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"
)

// State-directory error codes cover failures of the hash → file-ID mapping
// and its rebuild procedure.
const (
	// ErrorCodeStateCorrupted indicates state.dat references an index file
	// whose record does not decode.
	ErrorCodeStateCorrupted ErrorCode = "STATE_CORRUPTED"

	// ErrorCodeRebuildFailed indicates the rebuild-from-indexes procedure
	// itself failed. Lookups for unloaded keys degrade until it succeeds.
	ErrorCodeRebuildFailed ErrorCode = "STATE_REBUILD_FAILED"

	// ErrorCodeKeyNotFound indicates a key has no record in the state file.
	ErrorCodeKeyNotFound ErrorCode = "KEY_NOT_FOUND"
)
