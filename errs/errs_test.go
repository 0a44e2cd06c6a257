package errs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	err := New(KindStorageIntegrity,
		WithMessage("crc mismatch"),
		WithOffset(42),
		WithPath("norm.eventlog"),
	)
	s := err.Error()
	for _, want := range []string{"kind=storage_integrity", `message="crc mismatch"`, "offset=42"} {
		if !strings.Contains(s, want) {
			t.Errorf("rendered error %q missing %q", s, want)
		}
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	inner := New(KindBinaryParse, WithMessage("short packet"), WithOffset(12))
	wrapped := fmt.Errorf("packet 7: %w", inner)

	if got := KindOf(wrapped); got != KindBinaryParse {
		t.Fatalf("KindOf = %q, want %q", got, KindBinaryParse)
	}
	if !IsKind(wrapped, KindBinaryParse) {
		t.Fatal("IsKind should match through wrapping")
	}
	if got := OffsetOf(wrapped); got != 12 {
		t.Fatalf("OffsetOf = %d, want 12", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	err := New(KindStorageIO, WithCause(io.ErrUnexpectedEOF))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("expected cause to unwrap to io.ErrUnexpectedEOF")
	}
}

func TestOffsetDefaultsToUnset(t *testing.T) {
	if got := OffsetOf(New(KindInputFormat)); got != -1 {
		t.Fatalf("OffsetOf without offset = %d, want -1", got)
	}
	if got := OffsetOf(errors.New("plain")); got != -1 {
		t.Fatalf("OffsetOf on plain error = %d, want -1", got)
	}
}
