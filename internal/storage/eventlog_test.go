package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

func TestWriteAndReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "norm.eventlog")

	lw, err := CreateLog(path, []string{"AAPL"}, DefaultSchemaHash())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	ev := event.NewTrade(1, 1, "X", "AAPL", 100, 2)
	offset, err := lw.Append(ev)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lr, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer lr.Close()

	hdr := lr.Header()
	if hdr.Version != 1 {
		t.Errorf("version = %d, want 1", hdr.Version)
	}
	if len(hdr.Symbols) != 1 || hdr.Symbols[0] != "AAPL" {
		t.Errorf("symbols = %v, want [AAPL]", hdr.Symbols)
	}

	rec, err := lr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Offset != offset {
		t.Errorf("record offset = %d, want %d", rec.Offset, offset)
	}
	if rec.Event != ev {
		t.Errorf("event round-trip mismatch: got %+v", rec.Event)
	}

	if _, err := lr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of log, got %v", err)
	}
}

func TestCrcMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crc.eventlog")

	lw, err := CreateLog(path, []string{"AAPL"}, DefaultSchemaHash())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	recordOffset, err := lw.Append(event.NewTrade(1, 1, "X", "AAPL", 100, 2))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	raw[len(raw)-1] ^= 0x55
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}

	lr, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer lr.Close()

	_, err = lr.Next()
	if !errs.IsKind(err, errs.KindStorageIntegrity) {
		t.Fatalf("expected storage_integrity, got %v", err)
	}
	if got := errs.OffsetOf(err); got != int64(recordOffset) {
		t.Errorf("crc error offset = %d, want %d", got, recordOffset)
	}
}

func TestSingleBitFlipsAreDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bits.eventlog")

	lw, err := CreateLog(path, []string{"AAPL"}, DefaultSchemaHash())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	recordOffset, err := lw.Append(event.NewQuote(7, 1, "X", "AAPL", event.Quote{BidPx: 10, BidSz: 1, AskPx: 11, AskSz: 2}))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pristine, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	payloadStart := int(recordOffset) + recordHeaderLen

	for i := payloadStart; i < len(pristine); i++ {
		for bit := 0; bit < 8; bit++ {
			raw := append([]byte(nil), pristine...)
			raw[i] ^= 1 << bit
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				t.Fatalf("rewrite log: %v", err)
			}
			lr, err := OpenLog(path)
			if err != nil {
				t.Fatalf("OpenLog: %v", err)
			}
			_, err = lr.Next()
			_ = lr.Close()
			if !errs.IsKind(err, errs.KindStorageIntegrity) {
				t.Fatalf("flip at byte %d bit %d: expected storage_integrity, got %v", i, bit, err)
			}
		}
	}
}

func TestOpenRejectsBadMagicAndSchema(t *testing.T) {
	dir := t.TempDir()

	badMagic := filepath.Join(dir, "bad.eventlog")
	if err := os.WriteFile(badMagic, []byte("NOTALOG1........"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := OpenLog(badMagic); !errs.IsKind(err, errs.KindStorageIntegrity) {
		t.Errorf("bad magic error = %v, want storage_integrity", err)
	}

	badSchema := filepath.Join(dir, "schema.eventlog")
	lw, err := CreateLog(badSchema, nil, DefaultSchemaHash()+1)
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := OpenLog(badSchema); !errs.IsKind(err, errs.KindStorageIntegrity) {
		t.Errorf("schema mismatch error = %v, want storage_integrity", err)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	ev := event.NewQuote(1704189600000000000, 9, "X", "AAPL", event.Quote{BidPx: 10000, BidSz: 10, AskPx: 10002, AskSz: 11})
	a, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	b, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("two encodings of the same event differ")
	}

	decoded, err := DecodeEvent(a)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded != ev {
		t.Fatalf("round-trip mismatch: got %+v", decoded)
	}
}

func TestDecodeRejectsDisagreeingDiscriminant(t *testing.T) {
	ev := event.NewTrade(1, 1, "X", "AAPL", 5, 5)
	raw, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	// The event-type byte sits right after the two string fields.
	kindPos := 8 + 8 + 8 + len("X") + 8 + len("AAPL")
	raw[kindPos] = 2
	if _, err := DecodeEvent(raw); !errs.IsKind(err, errs.KindStorageIntegrity) {
		t.Fatalf("expected storage_integrity, got %v", err)
	}
}

func TestSeekAndRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.eventlog")

	lw, err := CreateLog(path, []string{"AAPL"}, DefaultSchemaHash())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	var offsets []uint64
	for i := 1; i <= 3; i++ {
		off, err := lw.Append(event.NewTrade(uint64(i*100), uint64(i), "X", "AAPL", int64(i), 1))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		offsets = append(offsets, off)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lr, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer lr.Close()

	if err := lr.Seek(offsets[2]); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	rec, err := lr.Next()
	if err != nil {
		t.Fatalf("Next after Seek: %v", err)
	}
	if rec.Event.Sequence != 3 {
		t.Errorf("sequence after seek = %d, want 3", rec.Event.Sequence)
	}

	if err := lr.RewindToData(); err != nil {
		t.Fatalf("RewindToData: %v", err)
	}
	rec, err = lr.Next()
	if err != nil {
		t.Fatalf("Next after rewind: %v", err)
	}
	if rec.Event.Sequence != 1 {
		t.Errorf("sequence after rewind = %d, want 1", rec.Event.Sequence)
	}
}
