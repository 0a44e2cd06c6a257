package event

import (
	"math/rand"
	"testing"
)

func TestAssignSequencesOrdersByFullKey(t *testing.T) {
	pending := []Pending{
		{TimestampNS: 200, Venue: "X", Symbol: "MSFT", Payload: Trade{PriceTicks: 2, Size: 1}, IngestOrder: 1},
		{TimestampNS: 100, Venue: "X", Symbol: "AAPL", Payload: Trade{PriceTicks: 1, Size: 1}, IngestOrder: 3},
		{TimestampNS: 100, Venue: "X", Symbol: "AAPL", Payload: Trade{PriceTicks: 3, Size: 1}, IngestOrder: 0},
		{TimestampNS: 100, Venue: "Y", Symbol: "AAPL", Payload: Trade{PriceTicks: 4, Size: 1}, IngestOrder: 2},
	}

	events := AssignSequences(pending)

	wantTicks := []int64{3, 4, 1, 2}
	for i, ev := range events {
		if ev.Sequence != uint64(i)+1 {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Sequence, i+1)
		}
		trade, ok := ev.Payload.(Trade)
		if !ok {
			t.Fatalf("event %d payload is %T, want Trade", i, ev.Payload)
		}
		if trade.PriceTicks != wantTicks[i] {
			t.Errorf("event %d price = %d, want %d", i, trade.PriceTicks, wantTicks[i])
		}
	}
}

func TestAssignSequencesTieBreaksOnSymbolAndVenue(t *testing.T) {
	pending := []Pending{
		{TimestampNS: 50, Venue: "Y", Symbol: "AAPL", Payload: Trade{PriceTicks: 2, Size: 1}, IngestOrder: 7},
		{TimestampNS: 50, Venue: "X", Symbol: "AAPL", Payload: Trade{PriceTicks: 1, Size: 1}, IngestOrder: 7},
	}
	events := AssignSequences(pending)
	if events[0].Venue != "X" || events[1].Venue != "Y" {
		t.Fatalf("venue tie-break failed: got %q, %q", events[0].Venue, events[1].Venue)
	}
}

func TestAssignSequencesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pending := make([]Pending, 500)
	for i := range pending {
		pending[i] = Pending{
			TimestampNS: uint64(rng.Intn(64)),
			Venue:       "X",
			Symbol:      "AAPL",
			Payload:     Trade{PriceTicks: int64(i), Size: 1},
			IngestOrder: uint64(i),
		}
	}

	events := AssignSequences(pending)
	seen := make(map[uint64]bool, len(events))
	for _, ev := range events {
		if seen[ev.Sequence] {
			t.Fatalf("duplicate sequence %d", ev.Sequence)
		}
		seen[ev.Sequence] = true
	}
	for seq := uint64(1); seq <= uint64(len(events)); seq++ {
		if !seen[seq] {
			t.Fatalf("sequence %d missing", seq)
		}
	}
}

func TestKindAgreesWithPayload(t *testing.T) {
	ev := Pending{
		TimestampNS: 1,
		Venue:       "X",
		Symbol:      "AAPL",
		Payload:     Quote{BidPx: 1, BidSz: 2, AskPx: 3, AskSz: 4},
		IngestOrder: 0,
	}.Sequenced(1)

	if ev.Kind != KindQuote || ev.Payload.EventKind() != KindQuote {
		t.Fatalf("kind = %v, payload kind = %v, want quote", ev.Kind, ev.Payload.EventKind())
	}
}

func TestEventsAreComparable(t *testing.T) {
	a := NewTrade(1, 1, "X", "AAPL", 100, 2)
	b := NewTrade(1, 1, "X", "AAPL", 100, 2)
	if a != b {
		t.Fatal("identical trade events should compare equal")
	}
	c := NewQuote(1, 1, "X", "AAPL", Quote{BidPx: 1, BidSz: 1, AskPx: 2, AskSz: 1})
	if a == c {
		t.Fatal("trade and quote events should not compare equal")
	}
}
