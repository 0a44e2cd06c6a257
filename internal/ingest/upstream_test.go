package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

const sampleChart = `{
  "chart": {
    "result": [{
      "timestamp": [1700000000],
      "indicators": {
        "quote": [{
          "close": [101.25],
          "high": [101.40],
          "low": [101.10],
          "volume": [12]
        }]
      }
    }],
    "error": null
  }
}`

func TestParseChartPayload(t *testing.T) {
	pending, err := parseChartPayload([]byte(sampleChart), "AAPL", "X", centTicks(t), 0)
	if err != nil {
		t.Fatalf("parseChartPayload: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("events = %d, want 2", len(pending))
	}

	trade, ok := pending[0].Payload.(event.Trade)
	if !ok {
		t.Fatalf("first payload = %T, want Trade", pending[0].Payload)
	}
	if trade.PriceTicks != 10125 || trade.Size != 12 {
		t.Errorf("trade = %+v, want px 10125 sz 12", trade)
	}

	quote, ok := pending[1].Payload.(event.Quote)
	if !ok {
		t.Fatalf("second payload = %T, want Quote", pending[1].Payload)
	}
	if quote.BidPx != 10110 || quote.AskPx != 10140 || quote.BidSz != 12 || quote.AskSz != 12 {
		t.Errorf("quote = %+v, want bid 10110x12 ask 10140x12", quote)
	}
	if pending[0].TimestampNS != 1700000000000000000 {
		t.Errorf("timestamp = %d, want 1700000000000000000", pending[0].TimestampNS)
	}
}

func TestParseChartPayloadSkipsMissingPoints(t *testing.T) {
	raw := `{
	  "chart": {
	    "result": [{
	      "timestamp": [1700000000, 1700000060],
	      "indicators": {
	        "quote": [{
	          "close": [null, 99.99],
	          "high": [null, 100.01],
	          "low": [null, 99.90],
	          "volume": [null, 5]
	        }]
	      }
	    }],
	    "error": null
	  }
	}`
	pending, err := parseChartPayload([]byte(raw), "MSFT", "X", centTicks(t), 0)
	if err != nil {
		t.Fatalf("parseChartPayload: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("events = %d, want 2 (first bar skipped)", len(pending))
	}
}

func TestParseChartPayloadUpstreamError(t *testing.T) {
	raw := `{"chart": {"result": null, "error": {"description": "not found"}}}`
	_, err := parseChartPayload([]byte(raw), "NOPE", "X", centTicks(t), 0)
	if !errs.IsKind(err, errs.KindInputFormat) {
		t.Fatalf("expected input_format, got %v", err)
	}
}

func TestChartClientIngest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleChart))
	}))
	defer server.Close()

	client := NewChartClient(server.URL)
	events, err := client.Ingest(context.Background(), []string{"AAPL"}, "X", centTicks(t), "1m", "1d")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Errorf("sequences = (%d, %d), want (1, 2)", events[0].Sequence, events[1].Sequence)
	}
}

func TestChartClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleChart))
	}))
	defer server.Close()

	client := NewChartClient(server.URL)
	events, err := client.Ingest(context.Background(), []string{"AAPL"}, "X", centTicks(t), "1m", "1d")
	if err != nil {
		t.Fatalf("Ingest after retry: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestChartClientFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewChartClient(server.URL)
	_, err := client.Ingest(context.Background(), []string{"AAPL"}, "X", centTicks(t), "1m", "1d")
	if !errs.IsKind(err, errs.KindNetworkTransport) {
		t.Fatalf("expected network_transport, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}
