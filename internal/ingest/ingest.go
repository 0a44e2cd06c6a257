// Package ingest normalizes raw market-data sources into canonical,
// sequence-ordered events.
//
// Tabular sources (CSV variants A, B, C) and the UDP-framed binary feed
// captured as packet traces all converge on []event.Pending, which the
// sequencing pass turns into the final event stream. Inputs ending in
// .gz are decompressed transparently.
package ingest

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/tick"
)

// ParseIssue records a recoverable failure while decoding a captured packet.
type ParseIssue struct {
	PacketIndex uint64
	Offset      int64
	Detail      string
}

// openInput opens path for reading, layering gzip decompression when the
// file name carries a .gz suffix.
func openInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) // #nosec G304 -- input path is operator provided via CLI flags.
	if err != nil {
		return nil, errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("gzip open failed"),
			errs.WithPath(path),
			errs.WithCause(err))
	}
	return &gzipReadCloser{zr: zr, f: f}, nil
}

type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// CSVA ingests a variant-A (top-of-book quotes) file into sequenced events.
func CSVA(path, venue string, ticks *tick.Table) ([]event.Event, error) {
	pending, err := ParseCSVA(path, venue, ticks)
	if err != nil {
		return nil, err
	}
	return event.AssignSequences(pending), nil
}

// CSVB ingests a variant-B (trades) file into sequenced events.
func CSVB(path, venue string, ticks *tick.Table) ([]event.Event, error) {
	pending, err := ParseCSVB(path, venue, ticks)
	if err != nil {
		return nil, err
	}
	return event.AssignSequences(pending), nil
}

// CSVC ingests a variant-C (mixed trade/quote) file into sequenced events.
func CSVC(path, venue string, ticks *tick.Table) ([]event.Event, error) {
	pending, err := ParseCSVC(path, venue, ticks)
	if err != nil {
		return nil, err
	}
	return event.AssignSequences(pending), nil
}
