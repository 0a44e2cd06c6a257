// Package event defines the canonical market-data event model and the
// sequencing pass that totally orders pending events.
package event

import "sort"

// Kind discriminates the event payload variants.
type Kind uint8

const (
	// KindTrade marks an executed-trade event.
	KindTrade Kind = 1
	// KindQuote marks a top-of-book quote event.
	KindQuote Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindQuote:
		return "quote"
	default:
		return "unknown"
	}
}

// Payload is the discriminated event payload. Implementations are
// comparable value types so events can be compared with ==.
type Payload interface {
	EventKind() Kind
}

// Trade is an executed trade in integer ticks.
type Trade struct {
	PriceTicks int64
	Size       int64
}

// EventKind implements Payload.
func (Trade) EventKind() Kind { return KindTrade }

// Quote is a top-of-book snapshot in integer ticks.
type Quote struct {
	BidPx int64
	BidSz int64
	AskPx int64
	AskSz int64
}

// EventKind implements Payload.
func (Quote) EventKind() Kind { return KindQuote }

// Event is the canonical, immutable record of the normalized stream.
// Kind is redundant with the payload variant; the two always agree.
type Event struct {
	TimestampNS uint64
	Sequence    uint64
	Venue       string
	Symbol      string
	Kind        Kind
	Payload     Payload
}

// Pending is a pre-sequence event carrying its raw ingest position.
type Pending struct {
	TimestampNS uint64
	Venue       string
	Symbol      string
	Payload     Payload
	IngestOrder uint64
}

// NewTrade constructs a canonical trade event.
func NewTrade(timestampNS, sequence uint64, venue, symbol string, priceTicks, size int64) Event {
	return Event{
		TimestampNS: timestampNS,
		Sequence:    sequence,
		Venue:       venue,
		Symbol:      symbol,
		Kind:        KindTrade,
		Payload:     Trade{PriceTicks: priceTicks, Size: size},
	}
}

// NewQuote constructs a canonical quote event.
func NewQuote(timestampNS, sequence uint64, venue, symbol string, quote Quote) Event {
	return Event{
		TimestampNS: timestampNS,
		Sequence:    sequence,
		Venue:       venue,
		Symbol:      symbol,
		Kind:        KindQuote,
		Payload:     quote,
	}
}

// Sequenced converts a pending event into a canonical event with the
// assigned sequence number, deriving Kind from the payload variant.
func (p Pending) Sequenced(sequence uint64) Event {
	return Event{
		TimestampNS: p.TimestampNS,
		Sequence:    sequence,
		Venue:       p.Venue,
		Symbol:      p.Symbol,
		Kind:        p.Payload.EventKind(),
		Payload:     p.Payload,
	}
}

// AssignSequences totally orders the pending events by the key
// (timestamp, ingest order, symbol, venue) and numbers them 1..N.
// The comparator, not insertion order, is the only source of ordering.
func AssignSequences(pending []Pending) []Event {
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.TimestampNS != b.TimestampNS {
			return a.TimestampNS < b.TimestampNS
		}
		if a.IngestOrder != b.IngestOrder {
			return a.IngestOrder < b.IngestOrder
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Venue < b.Venue
	})

	out := make([]Event, len(pending))
	for i, p := range pending {
		out[i] = p.Sequenced(uint64(i) + 1)
	}
	return out
}
