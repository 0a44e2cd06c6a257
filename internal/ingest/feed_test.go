package ingest

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/GeoCodeCrafter/md-replay/errs"
)

func buildTrade(tsNS uint64, symbol string, price, size int64) []byte {
	return tradePayload(tsNS, symbol, price, size)
}

func TestParseTradeMessage(t *testing.T) {
	msg, err := ParseMessage(buildTrade(123, "AAPL", 100, 7))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	want := Message{TimestampNS: 123, Type: MsgTrade, Symbol: "AAPL", Price: 100, Size: 7}
	if msg != want {
		t.Fatalf("message = %+v, want %+v", msg, want)
	}
}

func TestParseAddOrderMessage(t *testing.T) {
	msg, err := ParseMessage(addOrderPayload(123, "MSFT", 0, 200, 9))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	want := Message{TimestampNS: 123, Type: MsgAddOrder, Symbol: "MSFT", Side: SideBid, Price: 200, Size: 9}
	if msg != want {
		t.Fatalf("message = %+v, want %+v", msg, want)
	}
}

func TestParseMessageRejectsBadInput(t *testing.T) {
	cases := []struct {
		name       string
		payload    []byte
		wantOffset int64
	}{
		{"short timestamp", []byte{1, 2, 3}, 0},
		{"unknown type", func() []byte {
			b := buildTrade(1, "AAPL", 1, 1)
			binary.BigEndian.PutUint32(b[8:12], 9)
			return b
		}(), 8},
		{"invalid side", func() []byte {
			b := addOrderPayload(1, "AAPL", 7, 1, 1)
			return b
		}(), 20},
		{"trailing bytes", append(buildTrade(1, "AAPL", 1, 1), 0xff), 36},
		{"non-ascii symbol", func() []byte {
			b := buildTrade(1, "AAPL", 1, 1)
			b[12] = 0xc3
			return b
		}(), 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage(tc.payload)
			if !errs.IsKind(err, errs.KindBinaryParse) {
				t.Fatalf("expected binary_parse, got %v", err)
			}
			if got := errs.OffsetOf(err); got != tc.wantOffset {
				t.Errorf("error offset = %d, want %d", got, tc.wantOffset)
			}
		})
	}
}

func TestParseMessageNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		data := make([]byte, rng.Intn(64))
		rng.Read(data)
		_, _ = ParseMessage(data)
	}
}

func TestSymbolPaddingTrimmed(t *testing.T) {
	payload := buildTrade(1, "AB", 1, 1)
	msg, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Symbol != "AB" {
		t.Fatalf("symbol = %q, want %q", msg.Symbol, "AB")
	}

	// NUL padding is trimmed the same way as spaces.
	copy(payload[12:20], append([]byte("CD"), 0, 0, 0, 0, 0, 0))
	msg, err = ParseMessage(payload)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Symbol != "CD" {
		t.Fatalf("symbol = %q, want %q", msg.Symbol, "CD")
	}
}
