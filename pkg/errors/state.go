package errors

// StateError provides specialized error handling for the persistent state
// directory: the hash → file-ID mapping in state.dat and its rebuild
// procedure. It extends the base error system with state-specific context
// while supporting method chaining through all base error methods.
type StateError struct {
	*baseError

	// Identifies which key (after truncation) was being resolved when the
	// error occurred, when a key is in play at all.
	key string

	// The key hash being looked up or registered.
	hash uint64

	// Which record index inside state.dat was being read when the error
	// occurred, for corruption reports.
	record int

	// Describes what state operation was being performed when the error
	// occurred (e.g., "Get", "Add", "Rebuild", "FindLog").
	operation string
}

// NewStateError creates a new state-specific error with the provided context.
func NewStateError(err error, code ErrorCode, msg string) *StateError {
	return &StateError{baseError: NewBaseError(err, code, msg)}
}

// Override base error methods to return *StateError instead of *baseError.

// WithMessage updates the error message while maintaining the StateError type.
func (se *StateError) WithMessage(msg string) *StateError {
	se.baseError.WithMessage(msg)
	return se
}

// WithCode sets the error code while preserving the StateError type.
func (se *StateError) WithCode(code ErrorCode) *StateError {
	se.baseError.WithCode(code)
	return se
}

// WithDetail adds contextual information while maintaining the StateError type.
func (se *StateError) WithDetail(key string, value any) *StateError {
	se.baseError.WithDetail(key, value)
	return se
}

// State-specific methods that add domain context to the error.

// WithKey records which key was being resolved when the error occurred.
func (se *StateError) WithKey(key string) *StateError {
	se.key = key
	return se
}

// WithHash records the key hash involved in the failed operation.
func (se *StateError) WithHash(hash uint64) *StateError {
	se.hash = hash
	return se
}

// WithRecord captures which record index inside state.dat was being read.
func (se *StateError) WithRecord(record int) *StateError {
	se.record = record
	return se
}

// WithOperation describes what state operation was being performed.
func (se *StateError) WithOperation(operation string) *StateError {
	se.operation = operation
	return se
}

// Key returns the key that was being resolved.
func (se *StateError) Key() string {
	return se.key
}

// Hash returns the key hash involved in the failed operation.
func (se *StateError) Hash() uint64 {
	return se.hash
}

// Record returns the state.dat record index involved in the failure.
func (se *StateError) Record() int {
	return se.record
}

// Operation returns the state operation that was being performed.
func (se *StateError) Operation() string {
	return se.operation
}
