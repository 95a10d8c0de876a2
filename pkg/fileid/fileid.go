// Package fileid generates the unique identifiers that name a log's index
// and data files on disk.
//
// An ID packs into 14 bytes: a microsecond wall-clock timestamp (u64), a
// 32-bit generator hash, and a random draw in [0, 9999] (u16). Its canonical
// string form is the filename stem
//
//	{timestamp:hex}_{generatorhash:hex}_{random:04d}
//
// with lowercase hex, no 0x prefix, and the random component always four
// decimal digits. The same ID renders to the same stem on every platform,
// and Parse is the exact inverse of String — the state rebuild procedure
// relies on both when it re-derives state.dat from the index directory.
//
// Two IDs collide only when generated in the same microsecond by the same
// generator slot with the same random draw, which is acceptable at the
// scale this store targets.
package fileid

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Size is the packed byte length of an ID inside index records.
const Size = 14

// ID is the 14-byte unique identifier shared by one log's index file and
// data file. The zero ID is a legal sentinel meaning "unset".
type ID struct {
	Timestamp     uint64 // Microseconds since the Unix epoch at generation time.
	GeneratorHash uint32 // 32-bit hash distinguishing concurrent generators.
	Random        uint16 // Uniform draw in [0, 9999].
}

// generatorSeq distinguishes concurrent Generate calls. Each call mixes a
// fresh sequence number with the process id, so two goroutines generating
// in the same microsecond still produce distinct hashes.
var generatorSeq atomic.Uint64

// Generate produces a fresh ID from the wall clock, the generator hash and
// a random draw.
func Generate() ID {
	h := fnv.New32a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(buf[8:16], generatorSeq.Add(1))
	h.Write(buf[:])

	return ID{
		Timestamp:     uint64(time.Now().UnixMicro()),
		GeneratorHash: h.Sum32(),
		Random:        uint16(rand.IntN(10000)),
	}
}

// IsZero reports whether the ID is the unset sentinel.
func (id ID) IsZero() bool {
	return id.Timestamp == 0 && id.GeneratorHash == 0 && id.Random == 0
}

// String renders the canonical filename stem for the ID.
func (id ID) String() string {
	return fmt.Sprintf("%x_%x_%04d", id.Timestamp, id.GeneratorHash, id.Random)
}

// Parse is the inverse of String. It rejects stems that are not three
// underscore-separated parts — hex timestamp, hex generator hash, and a
// four-digit decimal random in [0, 9999] — which lets the state rebuild skip
// foreign files that ended up in the index directory. Hex case and leading
// zeros are not checked.
func Parse(stem string) (ID, error) {
	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("fileid: stem %q: expected 3 parts, got %d", stem, len(parts))
	}

	timestamp, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return ID{}, fmt.Errorf("fileid: stem %q: bad timestamp: %w", stem, err)
	}

	generatorHash, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return ID{}, fmt.Errorf("fileid: stem %q: bad generator hash: %w", stem, err)
	}

	if len(parts[2]) != 4 {
		return ID{}, fmt.Errorf("fileid: stem %q: random part must be 4 digits", stem)
	}
	random, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ID{}, fmt.Errorf("fileid: stem %q: bad random part: %w", stem, err)
	}
	if random > 9999 {
		return ID{}, fmt.Errorf("fileid: stem %q: random part out of range", stem)
	}

	return ID{Timestamp: timestamp, GeneratorHash: uint32(generatorHash), Random: uint16(random)}, nil
}

// Encode packs the ID into b, which must be at least Size bytes, and
// returns the number of bytes written. Layout is little-endian u64, u32,
// u16 with no padding.
func (id ID) Encode(b []byte) int {
	binary.LittleEndian.PutUint64(b[0:8], id.Timestamp)
	binary.LittleEndian.PutUint32(b[8:12], id.GeneratorHash)
	binary.LittleEndian.PutUint16(b[12:14], id.Random)
	return Size
}

// Decode unpacks an ID from the first Size bytes of b.
func Decode(b []byte) ID {
	return ID{
		Timestamp:     binary.LittleEndian.Uint64(b[0:8]),
		GeneratorHash: binary.LittleEndian.Uint32(b[8:12]),
		Random:        binary.LittleEndian.Uint16(b[12:14]),
	}
}
