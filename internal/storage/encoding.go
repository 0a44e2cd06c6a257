package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

// EncodeEvent serializes an event into the fixed-schema wire form:
// timestamp, sequence, venue, symbol, event type, then the payload
// prefixed by its discriminant. Integers are little-endian and strings
// carry a u64 length prefix. Encoding is deterministic: equal events
// always produce identical bytes.
func EncodeEvent(ev event.Event) ([]byte, error) {
	buf := make([]byte, 0, 64+len(ev.Venue)+len(ev.Symbol))
	buf = binary.LittleEndian.AppendUint64(buf, ev.TimestampNS)
	buf = binary.LittleEndian.AppendUint64(buf, ev.Sequence)
	buf = appendString(buf, ev.Venue)
	buf = appendString(buf, ev.Symbol)
	buf = append(buf, byte(ev.Kind))

	switch p := ev.Payload.(type) {
	case event.Trade:
		if ev.Kind != event.KindTrade {
			return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage("event kind disagrees with trade payload"))
		}
		buf = append(buf, byte(event.KindTrade))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.PriceTicks))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Size))
	case event.Quote:
		if ev.Kind != event.KindQuote {
			return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage("event kind disagrees with quote payload"))
		}
		buf = append(buf, byte(event.KindQuote))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.BidPx))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.BidSz))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.AskPx))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.AskSz))
	default:
		return nil, errs.New(errs.KindStorageIntegrity, errs.WithMessage(fmt.Sprintf("unsupported payload %T", ev.Payload)))
	}
	return buf, nil
}

// DecodeEvent deserializes the wire form produced by EncodeEvent.
func DecodeEvent(data []byte) (event.Event, error) {
	d := decoder{data: data}

	ts := d.uint64()
	seq := d.uint64()
	venue := d.str()
	symbol := d.str()
	kind := event.Kind(d.byte())
	disc := event.Kind(d.byte())

	var payload event.Payload
	switch disc {
	case event.KindTrade:
		payload = event.Trade{
			PriceTicks: int64(d.uint64()),
			Size:       int64(d.uint64()),
		}
	case event.KindQuote:
		payload = event.Quote{
			BidPx: int64(d.uint64()),
			BidSz: int64(d.uint64()),
			AskPx: int64(d.uint64()),
			AskSz: int64(d.uint64()),
		}
	default:
		if d.err == nil {
			return event.Event{}, errs.New(errs.KindStorageIntegrity,
				errs.WithMessage(fmt.Sprintf("unknown payload discriminant %d", disc)))
		}
	}
	if d.err != nil {
		return event.Event{}, d.err
	}
	if d.pos != len(d.data) {
		return event.Event{}, errs.New(errs.KindStorageIntegrity, errs.WithMessage("trailing bytes in event record"))
	}
	if kind != disc {
		return event.Event{}, errs.New(errs.KindStorageIntegrity, errs.WithMessage("event type disagrees with payload discriminant"))
	}

	return event.Event{
		TimestampNS: ts,
		Sequence:    seq,
		Venue:       venue,
		Symbol:      symbol,
		Kind:        kind,
		Payload:     payload,
	}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.data) {
		d.err = errs.New(errs.KindStorageIntegrity, errs.WithMessage("short event record"))
		return nil
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *decoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) str() string {
	n := d.uint64()
	if d.err != nil {
		return ""
	}
	if n > math.MaxInt32 {
		d.err = errs.New(errs.KindStorageIntegrity, errs.WithMessage("string length out of range"))
		return ""
	}
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}
