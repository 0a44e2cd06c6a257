// Package storage implements the on-disk event log and its companion
// sparse time index.
//
// An event log is a typed header followed by length-prefixed,
// CRC-protected records. Logs are written once, in sequence order, and
// read-only afterwards.
package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

const (
	logMagic   = "MDELOG01"
	logVersion = uint16(1)
	schemaDesc = "event_v1"

	recordHeaderLen = 8 // u32 length + u32 crc
)

// DefaultSchemaHash returns the schema identifier recorded in log headers.
func DefaultSchemaHash() uint64 {
	return uint64(crc32.ChecksumIEEE([]byte(schemaDesc)))
}

// LogHeader describes an opened event log.
type LogHeader struct {
	Version    uint16
	SchemaHash uint64
	Symbols    []string
	DataOffset uint64
}

// Record pairs an event with its starting byte offset in the log.
type Record struct {
	Offset uint64
	Event  event.Event
}

// LogWriter appends events to a new log file. It buffers writes; call
// Flush before handing the file to a reader.
type LogWriter struct {
	f      *os.File
	w      *bufio.Writer
	offset uint64
}

// CreateLog creates a log file and writes its header. The symbol set is
// recorded verbatim; symbols longer than 255 bytes are rejected.
func CreateLog(path string, symbols []string, schemaHash uint64) (*LogWriter, error) {
	f, err := os.Create(path) // #nosec G304 -- output path is operator provided.
	if err != nil {
		return nil, errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	w := bufio.NewWriter(f)
	offset := uint64(0)

	write := func(b []byte) error {
		if _, err := w.Write(b); err != nil {
			return errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
		}
		offset += uint64(len(b))
		return nil
	}

	if err := write([]byte(logMagic)); err != nil {
		return nil, err
	}
	if err := write(binary.LittleEndian.AppendUint16(nil, logVersion)); err != nil {
		return nil, err
	}
	if err := write(binary.LittleEndian.AppendUint64(nil, schemaHash)); err != nil {
		return nil, err
	}
	if err := write(binary.LittleEndian.AppendUint32(nil, uint32(len(symbols)))); err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		if len(symbol) > 255 {
			_ = f.Close()
			return nil, errs.New(errs.KindStorageIntegrity,
				errs.WithMessage("symbol too long: "+symbol),
				errs.WithPath(path))
		}
		if err := write([]byte{byte(len(symbol))}); err != nil {
			return nil, err
		}
		if err := write([]byte(symbol)); err != nil {
			return nil, err
		}
	}

	return &LogWriter{f: f, w: w, offset: offset}, nil
}

// Append serializes the event and writes one record, returning the
// record's starting byte offset.
func (lw *LogWriter) Append(ev event.Event) (uint64, error) {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return 0, err
	}
	recordOffset := lw.offset

	var hdr [recordHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
	if _, err := lw.w.Write(hdr[:]); err != nil {
		return 0, errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	if _, err := lw.w.Write(payload); err != nil {
		return 0, errs.New(errs.KindStorageIO, errs.WithCause(err))
	}

	lw.offset += recordHeaderLen + uint64(len(payload))
	return recordOffset, nil
}

// Flush drains the write buffer to disk.
func (lw *LogWriter) Flush() error {
	if err := lw.w.Flush(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return nil
}

// Close flushes and closes the underlying file.
func (lw *LogWriter) Close() error {
	if err := lw.Flush(); err != nil {
		_ = lw.f.Close()
		return err
	}
	if err := lw.f.Close(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return nil
}

// LogReader iterates the records of an event log. Readers never mutate
// the file; each caller opens its own reader.
type LogReader struct {
	f      *os.File
	r      *bufio.Reader
	header LogHeader
	pos    uint64
}

// OpenLog opens a log, validates its header, and positions the cursor
// at the first record.
func OpenLog(path string) (*LogReader, error) {
	f, err := os.Open(path) // #nosec G304 -- log path is operator provided.
	if err != nil {
		return nil, errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	r := bufio.NewReader(f)
	pos := uint64(0)

	readFull := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			_ = f.Close()
			return nil, errs.New(errs.KindStorageIntegrity,
				errs.WithMessage("truncated log header"),
				errs.WithPath(path),
				errs.WithCause(err))
		}
		pos += uint64(n)
		return buf, nil
	}

	magic, err := readFull(len(logMagic))
	if err != nil {
		return nil, err
	}
	if string(magic) != logMagic {
		_ = f.Close()
		return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage("bad magic"), errs.WithPath(path))
	}

	verBuf, err := readFull(2)
	if err != nil {
		return nil, err
	}
	version := binary.LittleEndian.Uint16(verBuf)
	if version != logVersion {
		_ = f.Close()
		return nil, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage(fmt.Sprintf("unsupported version %d", version)),
			errs.WithPath(path))
	}

	hashBuf, err := readFull(8)
	if err != nil {
		return nil, err
	}
	schemaHash := binary.LittleEndian.Uint64(hashBuf)
	if schemaHash != DefaultSchemaHash() {
		_ = f.Close()
		return nil, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage(fmt.Sprintf("schema hash mismatch: %#x", schemaHash)),
			errs.WithPath(path))
	}

	countBuf, err := readFull(4)
	if err != nil {
		return nil, err
	}
	symbolCount := binary.LittleEndian.Uint32(countBuf)
	symbols := make([]string, 0, symbolCount)
	for i := uint32(0); i < symbolCount; i++ {
		lenBuf, err := readFull(1)
		if err != nil {
			return nil, err
		}
		symBuf, err := readFull(int(lenBuf[0]))
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, string(symBuf))
	}

	return &LogReader{
		f: f,
		r: r,
		header: LogHeader{
			Version:    version,
			SchemaHash: schemaHash,
			Symbols:    symbols,
			DataOffset: pos,
		},
		pos: pos,
	}, nil
}

// Header returns the parsed log header.
func (lr *LogReader) Header() LogHeader { return lr.header }

// Seek positions the cursor at an absolute byte offset.
func (lr *LogReader) Seek(offset uint64) error {
	if _, err := lr.f.Seek(int64(offset), io.SeekStart); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	lr.r.Reset(lr.f)
	lr.pos = offset
	return nil
}

// RewindToData positions the cursor at the first record.
func (lr *LogReader) RewindToData() error {
	return lr.Seek(lr.header.DataOffset)
}

// Next reads and verifies the next record. A clean end of log returns
// io.EOF; a CRC mismatch returns a storage_integrity error carrying the
// record's starting offset.
func (lr *LogReader) Next() (Record, error) {
	offset := lr.pos

	var lenBuf [4]byte
	if _, err := io.ReadFull(lr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, errs.New(errs.KindStorageIO, errs.WithOffset(int64(offset)), errs.WithCause(err))
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	var crcBuf [4]byte
	if _, err := io.ReadFull(lr.r, crcBuf[:]); err != nil {
		return Record{}, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage("truncated record header"),
			errs.WithOffset(int64(offset)),
			errs.WithCause(err))
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(lr.r, payload); err != nil {
		return Record{}, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage("truncated record payload"),
			errs.WithOffset(int64(offset)),
			errs.WithCause(err))
	}
	lr.pos += recordHeaderLen + uint64(length)

	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Record{}, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage("crc mismatch"),
			errs.WithOffset(int64(offset)))
	}

	ev, err := DecodeEvent(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record at offset %d: %w", offset, err)
	}
	return Record{Offset: offset, Event: ev}, nil
}

// Close releases the underlying file.
func (lr *LogReader) Close() error {
	if err := lr.f.Close(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return nil
}
