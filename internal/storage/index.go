package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

const (
	indexMagic   = "MDEIDX01"
	indexVersion = uint16(1)

	indexEntryLen = 24
)

// IndexEntry samples one log record: its timestamp, sequence, and byte offset.
type IndexEntry struct {
	TimestampNS uint64
	Sequence    uint64
	ByteOffset  uint64
}

// IndexWriter records a stride-sampled subset of appended records.
type IndexWriter struct {
	f      *os.File
	w      *bufio.Writer
	stride uint32
	seen   uint64
}

// CreateIndex creates an index file with the given sampling stride.
func CreateIndex(path string, stride uint32) (*IndexWriter, error) {
	if stride == 0 {
		return nil, errs.New(errs.KindConfigurationInvalid, errs.WithMessage("index stride must be > 0"))
	}
	f, err := os.Create(path) // #nosec G304 -- output path is operator provided.
	if err != nil {
		return nil, errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write([]byte(indexMagic)); err != nil {
		_ = f.Close()
		return nil, errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	var hdr [6]byte
	binary.LittleEndian.PutUint16(hdr[0:2], indexVersion)
	binary.LittleEndian.PutUint32(hdr[2:6], stride)
	if _, err := w.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return &IndexWriter{f: f, w: w, stride: stride, seen: 0}, nil
}

// MaybeAdd writes an entry when the running record count lands on the
// stride boundary. The first appended record always produces an entry.
func (iw *IndexWriter) MaybeAdd(ev event.Event, offset uint64) error {
	if iw.seen%uint64(iw.stride) == 0 {
		var entry [indexEntryLen]byte
		binary.LittleEndian.PutUint64(entry[0:8], ev.TimestampNS)
		binary.LittleEndian.PutUint64(entry[8:16], ev.Sequence)
		binary.LittleEndian.PutUint64(entry[16:24], offset)
		if _, err := iw.w.Write(entry[:]); err != nil {
			return errs.New(errs.KindStorageIO, errs.WithCause(err))
		}
	}
	iw.seen++
	return nil
}

// Flush drains the write buffer to disk.
func (iw *IndexWriter) Flush() error {
	if err := iw.w.Flush(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return nil
}

// Close flushes and closes the underlying file.
func (iw *IndexWriter) Close() error {
	if err := iw.Flush(); err != nil {
		_ = iw.f.Close()
		return err
	}
	if err := iw.f.Close(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithCause(err))
	}
	return nil
}

// Index holds a fully loaded index file. Entries are in insertion
// order, which by construction is timestamp order.
type Index struct {
	stride  uint32
	entries []IndexEntry
}

// OpenIndex reads an index file into memory.
func OpenIndex(path string) (*Index, error) {
	f, err := os.Open(path) // #nosec G304 -- index path is operator provided.
	if err != nil {
		return nil, errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	defer func() { _ = f.Close() }()
	r := bufio.NewReader(f)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage("truncated index header"),
			errs.WithPath(path),
			errs.WithCause(err))
	}
	if string(magic) != indexMagic {
		return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage("bad index magic"), errs.WithPath(path))
	}

	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage("truncated index header"),
			errs.WithPath(path),
			errs.WithCause(err))
	}
	version := binary.LittleEndian.Uint16(hdr[0:2])
	if version != indexVersion {
		return nil, errs.New(errs.KindStorageIntegrity,
			errs.WithMessage(fmt.Sprintf("unsupported index version %d", version)),
			errs.WithPath(path))
	}
	stride := binary.LittleEndian.Uint32(hdr[2:6])
	if stride == 0 {
		return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage("index stride must be > 0"), errs.WithPath(path))
	}

	var entries []IndexEntry
	for {
		var buf [indexEntryLen]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errs.New(errs.KindStorageIntegrity,
				errs.WithMessage("truncated index entry"),
				errs.WithPath(path),
				errs.WithCause(err))
		}
		entries = append(entries, IndexEntry{
			TimestampNS: binary.LittleEndian.Uint64(buf[0:8]),
			Sequence:    binary.LittleEndian.Uint64(buf[8:16]),
			ByteOffset:  binary.LittleEndian.Uint64(buf[16:24]),
		})
	}

	return &Index{stride: stride, entries: entries}, nil
}

// Stride returns the sampling stride recorded in the header.
func (idx *Index) Stride() uint32 { return idx.stride }

// Entries returns the loaded entries.
func (idx *Index) Entries() []IndexEntry { return idx.entries }

// SeekOffset returns the byte offset of the last entry whose timestamp
// is at most fromNS, or the first entry's offset when fromNS precedes
// every sample. No record with a timestamp >= fromNS lies before the
// returned offset. Returns false when the index is empty.
func (idx *Index) SeekOffset(fromNS uint64) (uint64, bool) {
	if len(idx.entries) == 0 {
		return 0, false
	}
	i := sort.Search(len(idx.entries), func(k int) bool {
		return idx.entries[k].TimestampNS > fromNS
	})
	if i == 0 {
		return idx.entries[0].ByteOffset, true
	}
	return idx.entries[i-1].ByteOffset, true
}
