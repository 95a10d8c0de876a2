package errors

// StorageError is a specialized error type for data-file and index-file
// operations. It embeds baseError to inherit the standard error
// functionality, then adds storage-specific fields that pinpoint exactly
// where problems occurred.
type StorageError struct {
	*baseError
	key      string // Which log key was being accessed when the error occurred.
	offset   int64  // Byte offset within the data file where the problem happened.
	fileName string // Name of the file that caused the issue.
	path     string // Path of the file that caused the issue.
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithKey records which log key was involved in the error.
func (se *StorageError) WithKey(key string) *StorageError {
	se.key = key
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *StorageError) WithOffset(offset int64) *StorageError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// WithDetail adds contextual information while maintaining the StorageError type.
func (se *StorageError) WithDetail(key string, value any) *StorageError {
	se.baseError.WithDetail(key, value)
	return se
}

// Key returns the log key that was being accessed.
func (se *StorageError) Key() string {
	return se.key
}

// Offset returns the byte offset within the data file where the error happened.
func (se *StorageError) Offset() int64 {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *StorageError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *StorageError) Path() string {
	return se.path
}
