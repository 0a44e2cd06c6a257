// Package errs provides structured error types shared across the md-replay pipeline.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Kind identifies an error category in the replay pipeline taxonomy.
type Kind string

const (
	// KindInputFormat indicates a malformed tabular input (CSV column or value).
	KindInputFormat Kind = "input_format"
	// KindTickConversion indicates a decimal-to-tick conversion failure.
	KindTickConversion Kind = "tick_conversion"
	// KindBinaryParse indicates a malformed binary frame or message.
	KindBinaryParse Kind = "binary_parse"
	// KindStorageIO indicates a disk I/O failure.
	KindStorageIO Kind = "storage_io"
	// KindStorageIntegrity indicates a corrupt log or index artifact.
	KindStorageIntegrity Kind = "storage_integrity"
	// KindConfigurationInvalid indicates an invalid flag or config combination.
	KindConfigurationInvalid Kind = "configuration_invalid"
	// KindNetworkTransport indicates an RPC or upstream HTTP transport failure.
	KindNetworkTransport Kind = "network_transport"
	// KindDeterminismFailure indicates diverging verifier runs.
	KindDeterminismFailure Kind = "determinism_failure"
)

// E captures structured error information produced across the replay stack.
type E struct {
	Kind    Kind
	Message string
	Path    string
	Row     int
	Offset  int64

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{
		Kind:    kind,
		Message: "",
		Path:    "",
		Row:     0,
		Offset:  -1,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithPath records the file the error originated from.
func WithPath(path string) Option {
	return func(e *E) {
		e.Path = path
	}
}

// WithRow records the 1-based row of a tabular input error.
func WithRow(row int) Option {
	return func(e *E) {
		e.Row = row
	}
}

// WithOffset records the byte offset of a binary or storage error.
func WithOffset(offset int64) Option {
	return func(e *E) {
		e.Offset = offset
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Path != "" {
		parts = append(parts, "path="+strconv.Quote(e.Path))
	}
	if e.Row > 0 {
		parts = append(parts, "row="+strconv.Itoa(e.Row))
	}
	if e.Offset >= 0 {
		parts = append(parts, "offset="+strconv.FormatInt(e.Offset, 10))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf reports the Kind carried by err, or the empty Kind when err is
// not an envelope produced by this package.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// OffsetOf returns the byte offset attached to err, or -1 when absent.
func OffsetOf(err error) int64 {
	var e *E
	if errors.As(err, &e) {
		return e.Offset
	}
	return -1
}
