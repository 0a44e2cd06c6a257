package ingest

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/GeoCodeCrafter/md-replay/errs"
)

// Side marks which side of the book an AddOrder updates.
type Side uint8

const (
	// SideBid updates the best bid.
	SideBid Side = 0
	// SideAsk updates the best ask.
	SideAsk Side = 1
)

// MsgType discriminates the binary feed message kinds.
type MsgType uint32

const (
	// MsgAddOrder carries a one-sided book update.
	MsgAddOrder MsgType = 1
	// MsgTrade carries an execution.
	MsgTrade MsgType = 2
)

const (
	addOrderLen = 37
	tradeLen    = 36
)

// Message is one decoded binary feed message. Side is meaningful only
// for AddOrder.
type Message struct {
	TimestampNS uint64
	Type        MsgType
	Symbol      string
	Side        Side
	Price       int64
	Size        int64
}

// ParseMessage decodes a UDP payload into a feed message. All fields
// are big-endian. The payload length must match the message type
// exactly; trailing or missing bytes fail with the offending field's
// offset.
func ParseMessage(payload []byte) (Message, error) {
	r := feedReader{data: payload}

	timestampNS := r.uint64(0)
	msgType := MsgType(r.uint32(8))
	if r.err != nil {
		return Message{}, r.err
	}

	switch msgType {
	case MsgAddOrder:
		symbol := r.symbol(12)
		sideByte := r.byte(20)
		if r.err == nil && sideByte > 1 {
			return Message{}, feedErr(20, fmt.Sprintf("invalid side %d", sideByte))
		}
		price := r.int64(21)
		size := r.int64(29)
		if r.err != nil {
			return Message{}, r.err
		}
		if len(payload) != addOrderLen {
			return Message{}, feedErr(int64(r.pos), "trailing bytes")
		}
		return Message{
			TimestampNS: timestampNS,
			Type:        MsgAddOrder,
			Symbol:      symbol,
			Side:        Side(sideByte),
			Price:       price,
			Size:        size,
		}, nil
	case MsgTrade:
		symbol := r.symbol(12)
		price := r.int64(20)
		size := r.int64(28)
		if r.err != nil {
			return Message{}, r.err
		}
		if len(payload) != tradeLen {
			return Message{}, feedErr(int64(r.pos), "trailing bytes")
		}
		return Message{
			TimestampNS: timestampNS,
			Type:        MsgTrade,
			Symbol:      symbol,
			Side:        0,
			Price:       price,
			Size:        size,
		}, nil
	default:
		return Message{}, feedErr(8, fmt.Sprintf("unknown message type %d", msgType))
	}
}

type feedReader struct {
	data []byte
	pos  int
	err  error
}

func (r *feedReader) take(n int, fieldOffset int64) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = feedErr(fieldOffset, fmt.Sprintf("short packet need %d bytes", n))
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *feedReader) byte(fieldOffset int64) byte {
	b := r.take(1, fieldOffset)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *feedReader) uint32(fieldOffset int64) uint32 {
	b := r.take(4, fieldOffset)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *feedReader) uint64(fieldOffset int64) uint64 {
	b := r.take(8, fieldOffset)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *feedReader) int64(fieldOffset int64) int64 {
	return int64(r.uint64(fieldOffset))
}

// symbol reads the 8-byte padded symbol field and trims space/NUL padding.
func (r *feedReader) symbol(fieldOffset int64) string {
	b := r.take(8, fieldOffset)
	if b == nil {
		return ""
	}
	for _, c := range b {
		if c > 0x7f {
			r.err = feedErr(fieldOffset, "symbol is not valid ASCII")
			return ""
		}
	}
	return strings.TrimRight(string(b), " \x00")
}

func feedErr(offset int64, detail string) error {
	return errs.New(errs.KindBinaryParse, errs.WithMessage(detail), errs.WithOffset(offset))
}
