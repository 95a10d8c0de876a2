// Package store implements the per-key log handle: the object that owns one
// log's index record and data file and serializes every operation on them.
//
// The data file is a flat concatenation of length-prefixed frames, each a
// u16 little-endian length followed by that many payload bytes, oldest
// first, no separators. The index record's counters (EntryCount,
// TotalBytes) are the authoritative description of the file's shape:
// appends seek to TotalBytes rather than the OS end offset, so a short file
// left behind by a failed write is silently overwritten by the next
// successful append.
//
// When a log reaches the configured entry-count trigger, the append first
// runs a compaction cycle: the oldest frames are dropped, the survivors are
// re-packed to offset zero through a scratch buffer, and the file is
// truncated. This bounds every log's length and disk footprint.
package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	stdErrors "errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"

	"github.com/iamNilotpal/pyre/pkg/errors"
)

const (
	// MaxPayloadBytes is the largest payload one frame can carry; longer
	// payloads are truncated, not rejected.
	MaxPayloadBytes = 65535

	// frameHeaderSize is the u16 length prefix of every frame.
	frameHeaderSize = 2

	// scratchSize is the buffer the compaction cycle copies frames through.
	scratchSize = 64 * 1024
)

// New materializes a Handle from an index record. The data file is not
// opened until the first operation needs it.
func New(config *Config) (*Handle, error) {
	if config == nil || config.Record == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Handle configuration is required",
		).WithField("config").WithRule("required")
	}

	stem := config.Record.FileID.String()
	h := &Handle{
		record:    config.Record,
		hash:      config.Record.Hash(),
		dataPath:  filepath.Join(config.Options.DataDir, "data", stem+".dat"),
		indexPath: filepath.Join(config.Options.DataDir, "indexes", stem+".dat"),
		options:   config.Options,
		log:       config.Logger,
	}
	h.Touch()
	return h, nil
}

// Name returns the truncated key this handle serves.
func (h *Handle) Name() string { return h.record.Name }

// Hash returns the stable hash of the truncated key.
func (h *Handle) Hash() uint64 { return h.hash }

// EntryCount returns the current number of frames in the data file.
func (h *Handle) EntryCount() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record.EntryCount
}

// TotalBytes returns the current byte length of the data file.
func (h *Handle) TotalBytes() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record.TotalBytes
}

// Touch records the handle as just used, deferring eviction.
func (h *Handle) Touch() {
	h.touched.Store(time.Now().UnixNano())
}

// Pin marks the handle as in use by a caller. The registry pins every
// handle it returns, and the eviction worker skips pinned handles, so a
// handle obtained from a lookup can never be unloaded mid-operation.
func (h *Handle) Pin() { h.pins.Add(1) }

// Unpin releases a Pin.
func (h *Handle) Unpin() { h.pins.Add(-1) }

// ShouldUnload reports whether the handle has been idle past the configured
// window and nothing holds a pin on it.
func (h *Handle) ShouldUnload(now time.Time) bool {
	if h.pins.Load() > 0 {
		return false
	}
	return now.Sub(time.Unix(0, h.touched.Load())) > h.options.Eviction.MaxIdle
}

// Append writes one length-prefixed frame at the offset the index record
// claims is the end of the data file. Payloads longer than MaxPayloadBytes
// are truncated. The counters advance only after every byte is written, so
// a failed write leaves the record describing the last consistent state.
func (h *Handle) Append(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Touch()

	if h.record.EntryCount >= h.options.Compaction.TriggerEntries {
		if err := h.compact(); err != nil {
			// An interrupted compaction left the counters untouched; the
			// append below still lands at a consistent offset.
			h.log.Errorw("compaction cycle failed",
				"key", h.record.Name,
				"error", err,
				"errorCode", errors.GetErrorCode(err),
			)
		}
	}

	if err := h.ensureMode(modeAppend); err != nil {
		return err
	}

	// Seek to where the record says the file ends, not to the OS end
	// offset. A previous torn write may have left the file short or long;
	// writing at TotalBytes reclaims it either way.
	if _, err := h.file.Seek(int64(h.record.TotalBytes), io.SeekStart); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to seek to append offset").
			WithKey(h.record.Name).
			WithPath(h.dataPath).
			WithOffset(int64(h.record.TotalBytes))
	}

	n := len(payload)
	if n > MaxPayloadBytes {
		n = MaxPayloadBytes
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint16(header[:], uint16(n))

	if _, err := h.file.Write(header[:]); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to write frame header").
			WithKey(h.record.Name).
			WithPath(h.dataPath).
			WithOffset(int64(h.record.TotalBytes))
	}
	if _, err := h.file.Write(payload[:n]); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to write frame payload").
			WithKey(h.record.Name).
			WithPath(h.dataPath).
			WithOffset(int64(h.record.TotalBytes) + frameHeaderSize)
	}

	h.record.EntryCount++
	h.record.TotalBytes += frameHeaderSize + uint32(n)
	return nil
}

// ReadAll streams every frame to w in insertion order, each as the decimal
// frame length, a NUL, the payload bytes, and a NUL. When the file holds
// fewer frames than the record claims, the scan stops at the short read and
// keeps what it got.
func (h *Handle) ReadAll(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Touch()

	reader, err := h.frameReader()
	if reader == nil {
		return err
	}

	payload := make([]byte, MaxPayloadBytes)
	for i := uint32(0); i < h.record.EntryCount; i++ {
		n, ok := h.readFrame(reader, payload)
		if !ok {
			break
		}
		if err := writeFrame(w, payload[:n]); err != nil {
			return err
		}
	}
	return nil
}

// ReadLast streams only the newest frame to w, in the same wire format as
// ReadAll. An empty or missing data file writes nothing.
func (h *Handle) ReadLast(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Touch()

	reader, err := h.frameReader()
	if reader == nil {
		return err
	}

	// Frames are oldest-first, so the last complete frame of the scan is
	// the newest. Two buffers swap roles so the kept frame survives the
	// next read.
	current := make([]byte, MaxPayloadBytes)
	kept := make([]byte, MaxPayloadBytes)
	last := -1
	for i := uint32(0); i < h.record.EntryCount; i++ {
		n, ok := h.readFrame(reader, current)
		if !ok {
			break
		}
		current, kept = kept, current
		last = n
	}
	if last < 0 {
		return nil
	}
	return writeFrame(w, kept[:last])
}

// frameReader positions the data file for a sequential scan and wraps it in
// a buffered reader. A data file that does not exist yet reads as empty:
// both return values are nil.
func (h *Handle) frameReader() (*bufio.Reader, error) {
	if err := h.ensureMode(modeRead); err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to seek to start of data file").
			WithKey(h.record.Name).
			WithPath(h.dataPath)
	}
	return bufio.NewReaderSize(h.file, scratchSize), nil
}

// readFrame pulls the next frame into buf, reporting false on any short
// read. Short reads end the scan silently: a torn tail write is expected
// after a crash and heals on the next append.
func (h *Handle) readFrame(r *bufio.Reader, buf []byte) (int, bool) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, false
	}
	n := int(binary.LittleEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return 0, false
	}
	return n, true
}

// writeFrame emits one frame in the wire format the HTTP layer serves:
// decimal length, NUL, payload, NUL.
func writeFrame(w io.Writer, payload []byte) error {
	var lengthBuf [8]byte
	out := strconv.AppendUint(lengthBuf[:0], uint64(len(payload)), 10)
	out = append(out, 0)
	if _, err := w.Write(out); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// compact drops the oldest CycleEntries frames and re-packs the survivors
// to offset zero. The walk reads each surviving frame at its source offset
// and writes it at the destination offset through a scratch buffer; source
// always leads destination, so the copy never overwrites bytes it has yet
// to read. The file is truncated to the final destination offset.
func (h *Handle) compact() error {
	cycle := h.options.Compaction.CycleEntries
	if h.record.EntryCount <= cycle {
		return nil
	}

	if err := h.ensureMode(modeReadWrite); err != nil {
		return err
	}

	h.log.Infow("running compaction cycle",
		"key", h.record.Name,
		"entries", h.record.EntryCount,
		"dropping", cycle,
	)

	// First pass: measure the byte span of the frames being dropped.
	var skipBytes int64
	var header [frameHeaderSize]byte
	for i := uint32(0); i < cycle; i++ {
		if _, err := h.file.ReadAt(header[:], skipBytes); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeFrameReadFailure, "Failed to read frame header during compaction").
				WithKey(h.record.Name).
				WithPath(h.dataPath).
				WithOffset(skipBytes)
		}
		skipBytes += frameHeaderSize + int64(binary.LittleEndian.Uint16(header[:]))
	}

	// Second pass: slide every surviving frame to the front.
	scratch := make([]byte, scratchSize)
	src, dst := skipBytes, int64(0)
	remaining := h.record.EntryCount - cycle
	for i := uint32(0); i < remaining; i++ {
		if _, err := h.file.ReadAt(header[:], src); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeFrameReadFailure, "Failed to read surviving frame during compaction").
				WithKey(h.record.Name).
				WithPath(h.dataPath).
				WithOffset(src)
		}
		frameLen := frameHeaderSize + int(binary.LittleEndian.Uint16(header[:]))

		copied := 0
		for copied < frameLen {
			chunk := frameLen - copied
			if chunk > len(scratch) {
				chunk = len(scratch)
			}
			if _, err := h.file.ReadAt(scratch[:chunk], src+int64(copied)); err != nil {
				return errors.NewStorageError(err, errors.ErrorCodeFrameReadFailure, "Failed to read frame bytes during compaction").
					WithKey(h.record.Name).
					WithPath(h.dataPath).
					WithOffset(src + int64(copied))
			}
			if _, err := h.file.WriteAt(scratch[:chunk], dst+int64(copied)); err != nil {
				return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to write frame bytes during compaction").
					WithKey(h.record.Name).
					WithPath(h.dataPath).
					WithOffset(dst + int64(copied))
			}
			copied += chunk
		}

		src += int64(frameLen)
		dst += int64(frameLen)
	}

	if err := h.file.Truncate(dst); err != nil {
		return errors.ClassifyTruncateError(err, h.dataPath, dst)
	}

	h.record.EntryCount -= cycle
	h.record.TotalBytes = uint32(dst)

	h.log.Infow("compaction cycle finished",
		"key", h.record.Name,
		"entries", h.record.EntryCount,
		"totalBytes", h.record.TotalBytes,
	)
	return nil
}

// Persist writes the complete index record to the index file and closes the
// data file. It runs on eviction and on shutdown; the write replaces the
// whole file atomically so a torn record can never be observed.
func (h *Handle) Persist() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := atomic.WriteFile(h.indexPath, bytes.NewReader(h.record.Marshal())); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to persist index record").
			WithKey(h.record.Name).
			WithPath(h.indexPath)
	}

	h.closeFile()
	return nil
}

// ensureMode makes sure the data file is open in the requested mode,
// reusing the current handle when the mode already matches.
func (h *Handle) ensureMode(mode fileMode) error {
	if h.file != nil && h.mode == mode {
		return nil
	}
	h.closeFile()

	var flags int
	switch mode {
	case modeRead:
		flags = os.O_RDONLY
	case modeAppend:
		flags = os.O_CREATE | os.O_WRONLY
	case modeReadWrite:
		flags = os.O_RDWR
	default:
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "Unsupported data file mode")
	}

	file, err := os.OpenFile(h.dataPath, flags, 0644)
	if err != nil {
		return errors.ClassifyFileOpenError(err, h.dataPath, filepath.Base(h.dataPath))
	}

	h.file = file
	h.mode = mode
	return nil
}

// closeFile drops the data file handle, logging close failures at Debug:
// by that point every write either landed or was already reported.
func (h *Handle) closeFile() {
	if h.file == nil {
		return
	}
	if err := h.file.Close(); err != nil {
		h.log.Debugw("closing data file failed", "key", h.record.Name, "error", err)
	}
	h.file = nil
	h.mode = modeNone
}
