// Package errors implements the typed error hierarchy shared by every pyre
// component. A foundational baseError carries a code, a message, a cause and
// a lazily-allocated details map; the ValidationError, StorageError and
// StateError specializations add the context their domain needs for
// diagnosis: which field failed validation, which file and offset an I/O
// operation touched, which key hash and state record a lookup was resolving.
//
// The engine absorbs most failures instead of propagating them to clients,
// so these errors mainly feed the structured log: a handler logs the typed
// error with its code and details, then carries on. The Is*/As* helpers
// exist for the few spots that branch on failure kind — the state directory
// skipping index records with unknown versions during rebuild and lookup.
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError checks if the given error is a ValidationError or
// contains one in its error chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsStorageError determines if an error is related to data-file or
// index-file operations, such as file I/O, disk space issues, or record
// corruption.
func IsStorageError(err error) bool {
	var se *StorageError
	return stdErrors.As(err, &se)
}

// IsStateError identifies errors that occurred while reading, registering or
// rebuilding the persistent state directory.
func IsStateError(err error) bool {
	var se *StateError
	return stdErrors.As(err, &se)
}

// AsValidationError safely extracts a ValidationError from an error chain,
// providing access to validation-specific context such as which field failed
// and what rule was violated.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsStorageError extracts StorageError context from an error chain,
// providing access to the key, file name, path and offset involved.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsStateError extracts StateError context from an error chain, providing
// access to the key, hash, record index and operation involved.
func AsStateError(err error) (*StateError, bool) {
	var se *StateError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports it, or
// returns ErrorCodeInternal for errors that don't have specific codes.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if se, ok := AsStorageError(err); ok {
		return se.Code()
	}
	if se, ok := AsStateError(err); ok {
		return se.Code()
	}
	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that supports
// them, returning an empty map for errors without details.
func GetErrorDetails(err error) map[string]any {
	if ve, ok := AsValidationError(err); ok {
		if details := ve.Details(); details != nil {
			return details
		}
	}
	if se, ok := AsStorageError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}
	if se, ok := AsStateError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}
	return make(map[string]any)
}

// ClassifyDirectoryCreationError analyzes directory creation failures and
// returns appropriate error codes based on the underlying system error.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"Insufficient permissions to create data directory",
		).WithPath(path).WithDetail("operation", "directory_creation")
	}

	if errno, ok := errnoOf(err); ok && errno == syscall.ENOSPC {
		return NewStorageError(
			err, ErrorCodeDiskFull,
			"Insufficient disk space to create data directory",
		).WithPath(path).WithDetail("operation", "directory_creation")
	}

	return NewStorageError(
		err, ErrorCodeIO, "Failed to create data directory",
	).WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes file opening failures and returns
// appropriate error codes based on the underlying system error.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"Insufficient permissions to open file",
		).WithPath(filePath).
			WithFileName(fileName).
			WithDetail("operation", "file_open")
	}

	if errno, ok := errnoOf(err); ok && errno == syscall.ENOSPC {
		return NewStorageError(
			err, ErrorCodeDiskFull,
			"Insufficient disk space to create file",
		).WithPath(filePath).
			WithFileName(fileName).
			WithDetail("operation", "file_open")
	}

	return NewStorageError(err, ErrorCodeIO, "Failed to open file").
		WithPath(filePath).
		WithFileName(fileName).
		WithDetail("operation", "file_open")
}

// ClassifyTruncateError analyzes truncate failures during compaction.
// The truncate runs after the survivors were re-packed to the front of the
// file; when it fails, the compaction returns before updating the in-memory
// counters, so they still describe the pre-compaction file. The condition
// gets a specific code in the log.
func ClassifyTruncateError(err error, path string, size int64) error {
	if errno, ok := errnoOf(err); ok && errno == syscall.EROFS {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"Cannot truncate file on read-only filesystem",
		).WithPath(path).
			WithDetail("operation", "file_truncate").
			WithDetail("targetSize", size)
	}

	return NewStorageError(
		err, ErrorCodeTruncateFailure, "Failed to truncate data file",
	).WithPath(path).
		WithDetail("operation", "file_truncate").
		WithDetail("targetSize", size)
}

// errnoOf digs the syscall.Errno out of an *os.PathError chain, when present.
func errnoOf(err error) (syscall.Errno, bool) {
	var pathErr *os.PathError
	if !stdErrors.As(err, &pathErr) {
		return 0, false
	}
	var errno syscall.Errno
	if !stdErrors.As(pathErr.Err, &errno) {
		return 0, false
	}
	return errno, true
}
