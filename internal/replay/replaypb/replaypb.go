// Package replaypb defines the wire messages of the replay RPC and the
// codec that carries them over gRPC.
//
// The service is registered by hand rather than generated: the two
// message types are encoded with the same deterministic little-endian
// scheme used by the event log, so no descriptor tooling is involved.
package replaypb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

// CodecName is the gRPC content subtype negotiated for replay calls.
const CodecName = "mdwire"

// StreamRequest selects the replay window and pacing. Zero-valued
// numeric fields defer to the server defaults; booleans OR with them.
type StreamRequest struct {
	FromNS   uint64
	ToNS     uint64
	Speed    float64
	MaxSpeed bool
	StepMode bool
}

// TradePayload mirrors event.Trade on the wire.
type TradePayload struct {
	PriceTicks int64
	Size       int64
}

// QuotePayload mirrors event.Quote on the wire.
type QuotePayload struct {
	BidPx int64
	BidSz int64
	AskPx int64
	AskSz int64
}

// EventMessage is one replayed event. Exactly one of Trade and Quote is set.
type EventMessage struct {
	TimestampNS uint64
	Sequence    uint64
	Venue       string
	Symbol      string
	Trade       *TradePayload
	Quote       *QuotePayload
}

// FromEvent converts a canonical event into its wire message.
func FromEvent(ev event.Event) EventMessage {
	msg := EventMessage{
		TimestampNS: ev.TimestampNS,
		Sequence:    ev.Sequence,
		Venue:       ev.Venue,
		Symbol:      ev.Symbol,
		Trade:       nil,
		Quote:       nil,
	}
	switch p := ev.Payload.(type) {
	case event.Trade:
		msg.Trade = &TradePayload{PriceTicks: p.PriceTicks, Size: p.Size}
	case event.Quote:
		msg.Quote = &QuotePayload{BidPx: p.BidPx, BidSz: p.BidSz, AskPx: p.AskPx, AskSz: p.AskSz}
	}
	return msg
}

// ToEvent converts a wire message back into a canonical event.
func (m *EventMessage) ToEvent() (event.Event, error) {
	switch {
	case m.Trade != nil:
		return event.NewTrade(m.TimestampNS, m.Sequence, m.Venue, m.Symbol, m.Trade.PriceTicks, m.Trade.Size), nil
	case m.Quote != nil:
		return event.NewQuote(m.TimestampNS, m.Sequence, m.Venue, m.Symbol, event.Quote{
			BidPx: m.Quote.BidPx,
			BidSz: m.Quote.BidSz,
			AskPx: m.Quote.AskPx,
			AskSz: m.Quote.AskSz,
		}), nil
	default:
		return event.Event{}, fmt.Errorf("event message %d has no payload", m.Sequence)
	}
}

const (
	wireStreamRequest = byte(1)
	wireEventMessage  = byte(2)

	payloadNone  = byte(0)
	payloadTrade = byte(1)
	payloadQuote = byte(2)
)

// Codec implements grpc encoding.Codec over the replay message types.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *StreamRequest:
		buf := make([]byte, 0, 26)
		buf = append(buf, wireStreamRequest)
		buf = binary.LittleEndian.AppendUint64(buf, msg.FromNS)
		buf = binary.LittleEndian.AppendUint64(buf, msg.ToNS)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(msg.Speed))
		buf = append(buf, boolByte(msg.MaxSpeed), boolByte(msg.StepMode))
		return buf, nil
	case *EventMessage:
		buf := make([]byte, 0, 80+len(msg.Venue)+len(msg.Symbol))
		buf = append(buf, wireEventMessage)
		buf = binary.LittleEndian.AppendUint64(buf, msg.TimestampNS)
		buf = binary.LittleEndian.AppendUint64(buf, msg.Sequence)
		buf = appendWireString(buf, msg.Venue)
		buf = appendWireString(buf, msg.Symbol)
		switch {
		case msg.Trade != nil:
			buf = append(buf, payloadTrade)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Trade.PriceTicks))
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Trade.Size))
		case msg.Quote != nil:
			buf = append(buf, payloadQuote)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Quote.BidPx))
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Quote.BidSz))
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Quote.AskPx))
			buf = binary.LittleEndian.AppendUint64(buf, uint64(msg.Quote.AskSz))
		default:
			buf = append(buf, payloadNone)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("mdwire: unsupported message %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("mdwire: empty frame")
	}
	d := wireDecoder{data: data[1:]}

	switch msg := v.(type) {
	case *StreamRequest:
		if data[0] != wireStreamRequest {
			return fmt.Errorf("mdwire: frame tag %d is not a stream request", data[0])
		}
		msg.FromNS = d.uint64()
		msg.ToNS = d.uint64()
		msg.Speed = math.Float64frombits(d.uint64())
		msg.MaxSpeed = d.byte() != 0
		msg.StepMode = d.byte() != 0
		return d.finish()
	case *EventMessage:
		if data[0] != wireEventMessage {
			return fmt.Errorf("mdwire: frame tag %d is not an event message", data[0])
		}
		msg.TimestampNS = d.uint64()
		msg.Sequence = d.uint64()
		msg.Venue = d.str()
		msg.Symbol = d.str()
		msg.Trade, msg.Quote = nil, nil
		switch tag := d.byte(); tag {
		case payloadTrade:
			msg.Trade = &TradePayload{
				PriceTicks: int64(d.uint64()),
				Size:       int64(d.uint64()),
			}
		case payloadQuote:
			msg.Quote = &QuotePayload{
				BidPx: int64(d.uint64()),
				BidSz: int64(d.uint64()),
				AskPx: int64(d.uint64()),
				AskSz: int64(d.uint64()),
			}
		case payloadNone:
		default:
			if d.err == nil {
				return fmt.Errorf("mdwire: unknown payload tag %d", tag)
			}
		}
		return d.finish()
	default:
		return fmt.Errorf("mdwire: unsupported message %T", v)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendWireString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

type wireDecoder struct {
	data []byte
	pos  int
	err  error
}

func (d *wireDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.pos+n > len(d.data) {
		d.err = fmt.Errorf("mdwire: short frame")
		return nil
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *wireDecoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *wireDecoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *wireDecoder) str() string {
	n := d.uint64()
	if d.err != nil {
		return ""
	}
	if n > uint64(len(d.data)) {
		d.err = fmt.Errorf("mdwire: string length out of range")
		return ""
	}
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *wireDecoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.data) {
		return fmt.Errorf("mdwire: trailing bytes in frame")
	}
	return nil
}
