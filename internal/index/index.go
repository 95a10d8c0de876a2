// Package index implements the on-disk index record: the fixed-size
// metadata block that makes a key's log findable and reloadable after its
// in-memory handle is gone.
//
// The record is persisted byte-exact, so the codec here serializes field by
// field with explicit little-endian encoding rather than relying on any
// in-memory struct layout. Two schema versions exist: version 2 is current;
// version 1 records (written before the byte-accounting fields existed) are
// accepted on read and migrated by zero-filling the missing counters.
//
// The package also owns the two key normalizations everything else depends
// on: truncation to the 47-byte on-disk key buffer, and the stable 64-bit
// key hash stored in state.dat. The hash must produce identical values
// across processes, platforms and Go versions, because it is compared
// against hashes persisted by earlier runs.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/iamNilotpal/pyre/pkg/errors"
	"github.com/iamNilotpal/pyre/pkg/fileid"
)

// TruncateKey clips a key to MaxKeyBytes. Keys are compared only after
// truncation; callers must normalize before hashing or lookup.
func TruncateKey(key string) string {
	if len(key) > MaxKeyBytes {
		return key[:MaxKeyBytes]
	}
	return key
}

// HashKey returns the stable 64-bit FNV-1a hash of the truncated key. This
// value is persisted in state.dat and must never change meaning between
// builds.
func HashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(TruncateKey(key)))
	return h.Sum64()
}

// Hash returns the stable hash of the record's (already truncated) name.
func (r *Record) Hash() uint64 {
	return HashKey(r.Name)
}

// Marshal serializes the record as a current-version blob, regardless of
// the version it was loaded with. The result is always RecordSizeV2 bytes.
func (r *Record) Marshal() []byte {
	b := make([]byte, RecordSizeV2)

	binary.LittleEndian.PutUint32(b[0:4], CurrentVersion)
	r.FileID.Encode(b[4 : 4+fileid.Size])

	// The name buffer is zero-initialized, so copying the truncated key
	// leaves it NUL-terminated and zero-padded.
	copy(b[18:18+MaxKeyBytes], TruncateKey(r.Name))

	binary.LittleEndian.PutUint32(b[66:70], r.EntryCount)
	binary.LittleEndian.PutUint32(b[70:74], r.TotalBytes)
	binary.LittleEndian.PutUint32(b[74:78], r.KeyCount)

	return b
}

// Unmarshal decodes an index record blob, accepting both supported
// versions. Version-1 blobs get zero TotalBytes and KeyCount; the caller
// decides whether to rewrite them (a normal persist will). Unknown versions
// and short blobs return a StorageError whose code distinguishes the two,
// so rebuild and lookup can skip rather than abort.
func Unmarshal(b []byte) (*Record, error) {
	if len(b) < 4 {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeRecordCorrupted, "Index record too short for a version field",
		).WithDetail("length", len(b))
	}

	version := binary.LittleEndian.Uint32(b[0:4])
	switch version {
	case Version1:
		if len(b) < RecordSizeV1 {
			return nil, errors.NewStorageError(
				nil, errors.ErrorCodeRecordCorrupted,
				fmt.Sprintf("Version 1 index record needs %d bytes", RecordSizeV1),
			).WithDetail("length", len(b))
		}
	case Version2:
		if len(b) < RecordSizeV2 {
			return nil, errors.NewStorageError(
				nil, errors.ErrorCodeRecordCorrupted,
				fmt.Sprintf("Version 2 index record needs %d bytes", RecordSizeV2),
			).WithDetail("length", len(b))
		}
	default:
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeUnknownVersion, "Index record version not supported by this build",
		).WithDetail("version", version)
	}

	record := Record{
		Version: version,
		FileID:  fileid.Decode(b[4 : 4+fileid.Size]),
		Name:    decodeName(b[18 : 18+nameSize]),
	}
	record.EntryCount = binary.LittleEndian.Uint32(b[66:70])

	if version == Version2 {
		record.TotalBytes = binary.LittleEndian.Uint32(b[70:74])
		record.KeyCount = binary.LittleEndian.Uint32(b[74:78])
	}

	return &record, nil
}

// IsUnknownVersion reports whether err marks an index record written by a
// newer schema. Such records are skipped, never treated as corruption.
func IsUnknownVersion(err error) bool {
	se, ok := errors.AsStorageError(err)
	return ok && se.Code() == errors.ErrorCodeUnknownVersion
}

// decodeName extracts the NUL-terminated key from the fixed name buffer.
func decodeName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
